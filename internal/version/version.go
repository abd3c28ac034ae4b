package version

// Version is overridden at build time with -ldflags "-X shopsync/internal/version.Version=...".
var Version = "dev"
