// Package source turns a profile's declared source into a local readable file.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"shopsync/internal/models"
)

var (
	ErrSourceNotFound    = errors.New("source not found")
	ErrSourceFetchFailed = errors.New("source fetch failed")
)

const DefaultFetchTimeout = 20 * time.Second

// Resolved is a readable local copy of a source. Temporary copies are removed
// by Cleanup; durable files are left in place.
type Resolved struct {
	Path      string
	Temporary bool
}

func (r *Resolved) Cleanup() error {
	if r == nil || !r.Temporary || r.Path == "" {
		return nil
	}
	if err := os.Remove(r.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type Resolver interface {
	Resolve(ctx context.Context, tenantID, location string) (*Resolved, error)
}

// Factory picks the resolver for a source type.
type Factory interface {
	For(sourceType models.SourceType) (Resolver, error)
}

type Config struct {
	DataDir      string
	FetchTimeout time.Duration
	Client       *http.Client
}

type Resolvers struct {
	file *FileResolver
	url  *URLResolver
}

func New(cfg Config) *Resolvers {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Resolvers{
		file: &FileResolver{StorageRoot: filepath.Join(cfg.DataDir, "storage")},
		url:  &URLResolver{TempDir: filepath.Join(cfg.DataDir, "tmp"), Client: client, Timeout: timeout},
	}
}

func (r *Resolvers) For(sourceType models.SourceType) (Resolver, error) {
	switch sourceType {
	case models.SourceTypeFile:
		return r.file, nil
	case models.SourceTypeURL:
		return r.url, nil
	default:
		return nil, fmt.Errorf("%w: unsupported source type %q", models.ErrInvalidConfig, sourceType)
	}
}

func (r *Resolvers) TempDir() string { return r.url.TempDir }

// FileResolver reads from <storage root>/<tenant>/.
type FileResolver struct {
	StorageRoot string
}

func (f *FileResolver) Resolve(_ context.Context, tenantID, location string) (*Resolved, error) {
	tenantDir, err := tenantRoot(f.StorageRoot, tenantID)
	if err != nil {
		return nil, err
	}
	rel := filepath.Clean(filepath.FromSlash(strings.TrimSpace(location)))
	if rel == "." || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %q is outside tenant storage", ErrSourceNotFound, location)
	}
	full := filepath.Join(tenantDir, rel)
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, location)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrSourceNotFound, location)
	}
	return &Resolved{Path: full, Temporary: false}, nil
}

func tenantRoot(storageRoot, tenantID string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" || tenantID == "." || tenantID == ".." || strings.ContainsAny(tenantID, `/\`) {
		return "", fmt.Errorf("%w: invalid tenant %q", ErrSourceNotFound, tenantID)
	}
	return filepath.Join(storageRoot, tenantID), nil
}

// URLResolver downloads the source into a uniquely named temporary file.
type URLResolver struct {
	TempDir string
	Client  *http.Client
	Timeout time.Duration
}

func (u *URLResolver) Resolve(ctx context.Context, _ string, location string) (res *Resolved, err error) {
	parsed, err := url.Parse(strings.TrimSpace(location))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("%w: invalid url %q", ErrSourceFetchFailed, location)
	}
	timeout := u.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFetchFailed, err)
	}
	resp, err := u.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s returned %d", ErrSourceFetchFailed, parsed.Host, resp.StatusCode)
	}

	if err := os.MkdirAll(u.TempDir, 0o700); err != nil {
		return nil, err
	}
	target := filepath.Join(u.TempDir, "source-"+uuid.NewString()+extension(parsed.Path))
	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(target)
		}
	}()
	if _, err = io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %v", ErrSourceFetchFailed, err)
	}
	if err = f.Close(); err != nil {
		return nil, err
	}
	return &Resolved{Path: target, Temporary: true}, nil
}

// CleanupStale removes downloaded sources older than maxAge, left behind by
// a crash between download and cleanup.
func (u *URLResolver) CleanupStale(now time.Time, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(u.TempDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "source-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(u.TempDir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (r *Resolvers) CleanupStale(now time.Time, maxAge time.Duration) (int, error) {
	return r.url.CleanupStale(now, maxAge)
}

func extension(p string) string {
	ext := strings.ToLower(path.Ext(p))
	switch ext {
	case ".csv", ".xml", ".txt", ".tsv":
		return ext
	default:
		return ".tmp"
	}
}
