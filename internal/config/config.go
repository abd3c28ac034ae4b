package config

import "time"

type Config struct {
	Addr        string
	DataDir     string
	DBBackend   string
	DatabaseURL string
	APIToken    string
	AllowRemote bool
	// EncryptionKey seals integration credentials at rest.
	EncryptionKey string

	LogFormat string
	LogLevel  string

	TaskConcurrency int
	TaskMaxAttempts int
	TaskRetention   time.Duration

	SchedulerEnabled  bool
	SchedulerInterval time.Duration

	SourceFetchTimeout time.Duration
	RemoteTimeout      time.Duration
	// SyncMaxConcurrentRequests caps inline integration syncs served over HTTP.
	SyncMaxConcurrentRequests int
}
