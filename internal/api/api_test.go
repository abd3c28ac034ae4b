package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"shopsync/internal/config"
	"shopsync/internal/db"
	"shopsync/internal/metrics"
	"shopsync/internal/models"
	"shopsync/internal/remote"
	"shopsync/internal/runs"
	"shopsync/internal/source"
	"shopsync/internal/store"
	"shopsync/internal/syncer"
	"shopsync/internal/tasks"
	"shopsync/internal/ws"
)

const testTenant = "t1"

type stubDriver struct {
	mu     sync.Mutex
	stock  map[string]int64
	closed int
}

func (d *stubDriver) ListOrders(context.Context, remote.OrderQuery) (remote.OrderPage, error) {
	return remote.OrderPage{}, nil
}

func (d *stubDriver) FetchOrder(context.Context, string) (remote.Order, error) {
	return remote.Order{}, nil
}

func (d *stubDriver) FindProduct(context.Context, remote.Identifier, string) (remote.Product, bool, error) {
	return remote.Product{}, false, nil
}

func (d *stubDriver) UpdateAvailability(context.Context, string, bool, string) error { return nil }

func (d *stubDriver) UpdateStock(_ context.Context, externalID string, quantity int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stock[externalID] = quantity
	return nil
}

func (d *stubDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

type testEnv struct {
	store   *store.Store
	driver  *stubDriver
	dataDir string
	srv     *httptest.Server
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	dataDir := t.TempDir()
	gormDB, err := db.Open(db.Config{
		Backend:    db.BackendSQLite,
		SQLitePath: filepath.Join(dataDir, "shopsync.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("open sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	st, err := store.New(gormDB, store.Options{Backend: db.BackendSQLite})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	hub := ws.NewHub()
	m := metrics.New()
	tracker := runs.NewTracker(st, hub, m)
	manager := tasks.NewManager(tasks.Config{Store: st, Hub: hub, Metrics: m, Concurrency: 1})
	driver := &stubDriver{stock: map[string]int64{}}
	sy := syncer.New(syncer.Config{
		Store:   st,
		Tracker: tracker,
		Queue:   manager,
		Sources: source.New(source.Config{DataDir: dataDir}),
		Drivers: func(context.Context, models.Integration) (remote.Driver, error) { return driver, nil },
		Metrics: m,
		DataDir: dataDir,
	})
	sy.Register(manager)

	handler := New(Dependencies{
		Config: config.Config{
			Addr:                      "127.0.0.1:0",
			DataDir:                   dataDir,
			DBBackend:                 string(db.BackendSQLite),
			SchedulerEnabled:          true,
			SchedulerInterval:         time.Minute,
			TaskConcurrency:           1,
			TaskMaxAttempts:           5,
			SyncMaxConcurrentRequests: 2,
		},
		Store:      st,
		Syncer:     sy,
		Tracker:    tracker,
		Tasks:      manager,
		Hub:        hub,
		Metrics:    m,
		ServerAddr: "127.0.0.1:0",
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testEnv{store: st, driver: driver, dataDir: dataDir, srv: srv}
}

func (e *testEnv) writeSource(t *testing.T, name, content string) {
	t.Helper()
	dir := filepath.Join(e.dataDir, "storage", testTenant)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
}

func doJSONRequest(t *testing.T, srv *httptest.Server, method, path string, payload any) *http.Response {
	t.Helper()
	return doTenantRequest(t, srv, method, path, testTenant, payload)
}

func doTenantRequest(t *testing.T, srv *httptest.Server, method, path, tenantID string, payload any) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, srv.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if tenantID != "" {
		req.Header.Set("X-Tenant-Id", tenantID)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return res
}

func decodeJSONResponse(t *testing.T, res *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, res *http.Response, want int) {
	t.Helper()
	if res.StatusCode != want {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(res.Body)
		t.Fatalf("status=%d, want %d: %s", res.StatusCode, want, buf.String())
	}
}

func csvProfileRequest(location string) models.ProfileCreateRequest {
	return models.ProfileCreateRequest{
		Name:           "supplier feed",
		Format:         models.SourceFormatCSV,
		SourceType:     models.SourceTypeFile,
		SourceLocation: location,
		Options:        &models.ParseOptions{Delimiter: ";", HasHeader: true},
		Schedule:       models.Schedule{Mode: models.FetchModeManual},
	}
}

func (e *testEnv) createProfile(t *testing.T, location string) models.SyncProfile {
	t.Helper()
	res := doJSONRequest(t, e.srv, http.MethodPost, "/api/v1/profiles", csvProfileRequest(location))
	defer res.Body.Close()
	expectStatus(t, res, http.StatusCreated)
	var p models.SyncProfile
	decodeJSONResponse(t, res, &p)
	return p
}

func jsonUnmarshal(data []byte, out any) error {
	return json.Unmarshal(data, out)
}
