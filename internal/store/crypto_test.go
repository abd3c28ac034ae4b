package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"shopsync/internal/db"
	"shopsync/internal/models"
)

func TestIntegrationCredentialsEncryptedAtRest(t *testing.T) {
	plain := newTestStore(t)
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	st, err := New(plain.db, Options{Backend: db.BackendSQLite, EncryptionKey: key})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	created, err := st.CreateIntegration(ctx, "t1", models.IntegrationCreateRequest{
		Name:       "shop",
		Transport:  models.TransportAPI,
		APIBaseURL: "https://shop.example.com/api",
		APIKey:     "secret-key",
	}, now)
	if err != nil {
		t.Fatalf("create integration: %v", err)
	}
	if created.APIKey != "secret-key" {
		t.Fatalf("APIKey=%q, want decrypted value", created.APIKey)
	}

	var row integrationRow
	if err := st.db.Where("id = ?", created.ID).Take(&row).Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	if !strings.HasPrefix(row.APIKey, sealedPrefix) || strings.Contains(row.APIKey, "secret-key") {
		t.Fatalf("stored api key %q is not sealed", row.APIKey)
	}

	got, ok, err := st.GetIntegration(ctx, "t1", created.ID)
	if err != nil || !ok {
		t.Fatalf("get integration: ok=%v err=%v", ok, err)
	}
	if got.APIKey != "secret-key" {
		t.Fatalf("APIKey=%q, want secret-key", got.APIKey)
	}

	if _, _, err := plain.GetIntegration(ctx, "t1", created.ID); !errors.Is(err, ErrEncryptedCredentials) {
		t.Fatalf("expected ErrEncryptedCredentials without a key, got %v", err)
	}
}

func TestSealedCredentialWithWrongKey(t *testing.T) {
	plain := newTestStore(t)
	keyA := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32))
	keyB := base64.RawURLEncoding.EncodeToString(bytes.Repeat([]byte{2}, 32))
	a, err := New(plain.db, Options{Backend: db.BackendSQLite, EncryptionKey: keyA})
	if err != nil {
		t.Fatalf("new store a: %v", err)
	}
	b, err := New(plain.db, Options{Backend: db.BackendSQLite, EncryptionKey: keyB})
	if err != nil {
		t.Fatalf("new store b: %v", err)
	}
	sealed, err := a.seal("pw")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if got, err := a.open(sealed); err != nil || got != "pw" {
		t.Fatalf("open = %q, %v", got, err)
	}
	if _, err := b.open(sealed); err == nil {
		t.Fatalf("expected error opening with a different key")
	}
	if got, err := b.open("plain"); err != nil || got != "plain" {
		t.Fatalf("unsealed value = %q, %v", got, err)
	}
}

func TestNewRejectsShortEncryptionKey(t *testing.T) {
	plain := newTestStore(t)
	key := base64.StdEncoding.EncodeToString([]byte("too-short"))
	if _, err := New(plain.db, Options{Backend: db.BackendSQLite, EncryptionKey: key}); err == nil {
		t.Fatalf("expected error for short key")
	}
}
