package store

import (
	"context"
	"crypto/cipher"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"shopsync/internal/db"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db      *gorm.DB
	backend db.Backend
	aead    cipher.AEAD
}

type Options struct {
	Backend db.Backend
	// EncryptionKey is a base64 32-byte key; empty stores credentials as-is.
	EncryptionKey string
}

func New(sqlDB *gorm.DB, opts Options) (*Store, error) {
	if sqlDB == nil {
		return nil, errors.New("store: nil database")
	}
	backend := opts.Backend
	if backend == "" {
		backend = db.BackendSQLite
	}
	aead, err := credentialAEAD(opts.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return &Store{db: sqlDB, backend: backend, aead: aead}, nil
}

func (s *Store) Backend() db.Backend { return s.backend }

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// timeLayout is fixed width so stored timestamps compare correctly as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := formatTime(*t)
	return &v
}

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseTimePtr(raw *string) *time.Time {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}
	t := parseTime(*raw)
	if t.IsZero() {
		return nil
	}
	return &t
}

func newID() string {
	return ulid.Make().String()
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	out := strings.TrimSpace(*v)
	if out == "" {
		return nil
	}
	return &out
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
