package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shopsync/internal/models"
)

func TestFileResolverFindsTenantFile(t *testing.T) {
	dataDir := t.TempDir()
	tenantDir := filepath.Join(dataDir, "storage", "t1")
	if err := os.MkdirAll(tenantDir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tenantDir, "feed.csv"), []byte("a\n1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	r, err := New(Config{DataDir: dataDir}).For(models.SourceTypeFile)
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	res, err := r.Resolve(context.Background(), "t1", "feed.csv")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Temporary {
		t.Fatalf("durable file reported as temporary")
	}
	if err := res.Cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(res.Path); err != nil {
		t.Fatalf("cleanup removed a durable file: %v", err)
	}
}

func TestFileResolverRejectsMissingAndEscapingPaths(t *testing.T) {
	dataDir := t.TempDir()
	r := New(Config{DataDir: dataDir})
	fr, _ := r.For(models.SourceTypeFile)

	for _, loc := range []string{"missing.csv", "../t2/feed.csv", "/etc/passwd"} {
		if _, err := fr.Resolve(context.Background(), "t1", loc); !errors.Is(err, ErrSourceNotFound) {
			t.Fatalf("resolve %q: expected ErrSourceNotFound, got %v", loc, err)
		}
	}
}

func TestURLResolverDownloadsToTempFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("nazwa;cena\nWidget;19.99\n"))
	}))
	defer srv.Close()

	dataDir := t.TempDir()
	ur, _ := New(Config{DataDir: dataDir}).For(models.SourceTypeURL)
	res, err := ur.Resolve(context.Background(), "t1", srv.URL+"/feed.csv")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Temporary || filepath.Ext(res.Path) != ".csv" {
		t.Fatalf("unexpected resolved source: %+v", res)
	}
	data, err := os.ReadFile(res.Path)
	if err != nil || string(data) != "nazwa;cena\nWidget;19.99\n" {
		t.Fatalf("unexpected body %q err=%v", data, err)
	}
	if err := res.Cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(res.Path); !os.IsNotExist(err) {
		t.Fatalf("temporary file still present: %v", err)
	}
}

func TestURLResolverNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	dataDir := t.TempDir()
	ur, _ := New(Config{DataDir: dataDir}).For(models.SourceTypeURL)
	if _, err := ur.Resolve(context.Background(), "t1", srv.URL); !errors.Is(err, ErrSourceFetchFailed) {
		t.Fatalf("expected ErrSourceFetchFailed, got %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(dataDir, "tmp"))
	if len(entries) != 0 {
		t.Fatalf("failed fetch left files behind: %d", len(entries))
	}
}

func TestURLResolverTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ur, _ := New(Config{DataDir: t.TempDir(), FetchTimeout: 50 * time.Millisecond}).For(models.SourceTypeURL)
	if _, err := ur.Resolve(context.Background(), "t1", srv.URL); !errors.Is(err, ErrSourceFetchFailed) {
		t.Fatalf("expected ErrSourceFetchFailed on timeout, got %v", err)
	}
}

func TestCleanupStale(t *testing.T) {
	dataDir := t.TempDir()
	r := New(Config{DataDir: dataDir})
	tmp := r.TempDir()
	if err := os.MkdirAll(tmp, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	old := filepath.Join(tmp, "source-old.csv")
	if err := os.WriteFile(old, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	fresh := filepath.Join(tmp, "source-new.csv")
	if err := os.WriteFile(fresh, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	n, err := r.CleanupStale(time.Now(), time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("cleanup: n=%d err=%v", n, err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh file removed: %v", err)
	}
}
