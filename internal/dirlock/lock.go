// Package dirlock provides exclusive, non-blocking file locks inside the data
// directory. The scheduler holds one so that only a single process dispatches
// due work.
package dirlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrLocked is returned when another process already holds the lock.
var ErrLocked = errors.New("lock is held by another process")

// Lock is held for as long as the underlying file handle remains open.
type Lock struct {
	path string
	f    *os.File
}

// LockPath returns the lock file path for a named lock in dataDir.
func LockPath(dataDir, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "shopsync"
	}
	return filepath.Join(dataDir, "."+name+".lock")
}

// Acquire takes the process-wide lock of dataDir.
func Acquire(dataDir string) (*Lock, error) {
	return AcquireNamed(dataDir, "")
}

// AcquireNamed takes the lock called name in dataDir without blocking.
func AcquireNamed(dataDir, name string) (*Lock, error) {
	lockPath := LockPath(dataDir, name)
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, err
	}
	// #nosec G304 -- lockPath is derived from the configured data directory.
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
		}
		return nil, err
	}

	// Record the holder for debugging.
	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "pid=%d\nstarted_at=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	_ = f.Sync()

	return &Lock{path: lockPath, f: f}, nil
}

func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release unlocks and closes the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	_ = l.f.Close()
	l.f = nil
	return err
}
