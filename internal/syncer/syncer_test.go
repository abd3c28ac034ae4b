package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"shopsync/internal/db"
	"shopsync/internal/dirlock"
	"shopsync/internal/mapping"
	"shopsync/internal/metrics"
	"shopsync/internal/models"
	"shopsync/internal/reconcile"
	"shopsync/internal/remote"
	"shopsync/internal/runs"
	"shopsync/internal/source"
	"shopsync/internal/store"
	"shopsync/internal/tasks"
	"shopsync/internal/ws"
)

type queuedTask struct {
	Name    string
	Payload json.RawMessage
}

type fakeQueue struct {
	mu       sync.Mutex
	handlers map[string]tasks.Handler
	queued   []queuedTask
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{handlers: map[string]tasks.Handler{}}
}

func (q *fakeQueue) Register(name string, h tasks.Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

func (q *fakeQueue) Enqueue(_ context.Context, name string, payload any) (models.Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.Task{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queued = append(q.queued, queuedTask{Name: name, Payload: raw})
	return models.Task{ID: fmt.Sprintf("task-%d", len(q.queued)), Name: name, Status: models.TaskStatusQueued}, nil
}

// take removes and returns the queued tasks called name.
func (q *fakeQueue) take(name string) []queuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out, rest []queuedTask
	for _, task := range q.queued {
		if task.Name == name {
			out = append(out, task)
		} else {
			rest = append(rest, task)
		}
	}
	q.queued = rest
	return out
}

func (q *fakeQueue) run(ctx context.Context, task queuedTask) error {
	q.mu.Lock()
	h := q.handlers[task.Name]
	q.mu.Unlock()
	if h == nil {
		return fmt.Errorf("no handler for %s", task.Name)
	}
	return h(ctx, task.Payload)
}

type fakeDriver struct {
	mu       sync.Mutex
	orders   []remote.Order
	products map[string]remote.Product
	stock    map[string]int64
	closed   int
}

func (f *fakeDriver) ListOrders(_ context.Context, q remote.OrderQuery) (remote.OrderPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := min(q.Offset, len(f.orders))
	end := min(start+q.Limit, len(f.orders))
	return remote.OrderPage{
		Orders:     append([]remote.Order(nil), f.orders[start:end]...),
		NextOffset: end,
		HasMore:    end < len(f.orders),
	}, nil
}

func (f *fakeDriver) FetchOrder(_ context.Context, id string) (remote.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.ExternalID == id {
			return o, nil
		}
	}
	return remote.Order{}, &remote.Error{Code: remote.CodeNotFound, Message: "not found"}
}

func (f *fakeDriver) FindProduct(_ context.Context, by remote.Identifier, code string) (remote.Product, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[string(by)+":"+code]
	return p, ok, nil
}

func (f *fakeDriver) UpdateAvailability(context.Context, string, bool, string) error { return nil }

func (f *fakeDriver) UpdateStock(_ context.Context, id string, qty int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stock[id] = qty
	return nil
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type harness struct {
	st        *store.Store
	syncer    *Syncer
	tracker   *runs.Tracker
	queue     *fakeQueue
	driver    *fakeDriver
	driverErr error
	dataDir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dataDir := t.TempDir()
	gormDB, err := db.Open(db.Config{Backend: db.BackendSQLite, SQLitePath: filepath.Join(dataDir, "shopsync.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	st, err := store.New(gormDB, store.Options{Backend: db.BackendSQLite})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	m := metrics.New()
	h := &harness{
		st:      st,
		tracker: runs.NewTracker(st, ws.NewHub(), m),
		queue:   newFakeQueue(),
		driver:  &fakeDriver{products: map[string]remote.Product{}, stock: map[string]int64{}},
		dataDir: dataDir,
	}
	h.syncer = New(Config{
		Store:   st,
		Tracker: h.tracker,
		Queue:   h.queue,
		Sources: source.New(source.Config{DataDir: dataDir}),
		Drivers: func(context.Context, models.Integration) (remote.Driver, error) {
			if h.driverErr != nil {
				return nil, h.driverErr
			}
			return h.driver, nil
		},
		Metrics: m,
		DataDir: dataDir,
	})
	h.syncer.Register(h.queue)
	return h
}

func (h *harness) writeSource(t *testing.T, name, content string) {
	t.Helper()
	dir := filepath.Join(h.dataDir, "storage", "t1")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
}

func (h *harness) csvProfile(t *testing.T, location string, chunkSize int) models.SyncProfile {
	t.Helper()
	interval := 60
	p, err := h.st.CreateProfile(context.Background(), "t1", models.ProfileCreateRequest{
		Name:           "feed",
		Format:         models.SourceFormatCSV,
		SourceType:     models.SourceTypeFile,
		SourceLocation: location,
		Options:        &models.ParseOptions{Delimiter: ";", HasHeader: true},
		Schedule:       models.Schedule{Mode: models.FetchModeInterval, IntervalMinutes: &interval},
		ChunkSize:      chunkSize,
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	return p
}

func (h *harness) mapColumns(t *testing.T, profileID string, pairs ...string) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.syncer.RefreshHeaders(ctx, "t1", profileID); err != nil {
		t.Fatalf("refresh headers: %v", err)
	}
	var rules []models.MappingRule
	for i := 0; i+1 < len(pairs); i += 2 {
		rules = append(rules, models.MappingRule{TargetType: models.TargetTypeProduct, SourceField: pairs[i], TargetField: pairs[i+1]})
	}
	if _, err := h.syncer.SyncMappings(ctx, "t1", profileID, rules); err != nil {
		t.Fatalf("sync mappings: %v", err)
	}
}

func (h *harness) runChunks(t *testing.T, chunks []queuedTask) {
	t.Helper()
	for _, c := range chunks {
		if err := h.queue.run(context.Background(), c); err != nil {
			t.Fatalf("chunk: %v", err)
		}
	}
}

func TestCSVProfileImportEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.writeSource(t, "feed.csv", "nazwa;cena;ean\nWidget;19.99;5901234123457\n")
	p := h.csvProfile(t, "feed.csv", 0)

	headers, err := h.syncer.RefreshHeaders(ctx, "t1", p.ID)
	if err != nil {
		t.Fatalf("refresh headers: %v", err)
	}
	if !reflect.DeepEqual(headers, []string{"nazwa", "cena", "ean"}) {
		t.Fatalf("headers = %v", headers)
	}
	h.mapColumns(t, p.ID, "nazwa", "name", "cena", "sale_price_net", "ean", "ean")

	run, err := h.syncer.RunProfileImport(ctx, "t1", p.ID)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if run.Status != models.RunStatusRunning || run.PendingChunks != 1 {
		t.Fatalf("run after producer = %+v", run)
	}

	chunks := h.queue.take(TaskProfileChunk)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	var chunk ChunkPayload
	if err := json.Unmarshal(chunks[0].Payload, &chunk); err != nil {
		t.Fatalf("decode chunk: %v", err)
	}
	if chunk.ChunkID == "" || len(chunk.Records) != 1 {
		t.Fatalf("chunk = %+v", chunk)
	}
	set, err := mapping.Compile(chunk.Mappings)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	payload, err := set.Apply(models.TargetTypeProduct, chunk.Records[0])
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := mapping.Payload{"name": "Widget", "sale_price_net": "19.99", "ean": "5901234123457"}
	if !reflect.DeepEqual(payload, want) {
		t.Fatalf("payload = %v", payload)
	}

	h.runChunks(t, chunks)
	done, err := h.tracker.Get(ctx, "t1", run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if done.Status != models.RunStatusCompleted || done.Processed != 1 || done.Success != 1 || done.PendingChunks != 0 {
		t.Fatalf("run = %+v", done)
	}

	product, ok, err := h.st.FindProductByEAN(ctx, "t1", "5901234123457")
	if err != nil || !ok {
		t.Fatalf("product: ok=%v err=%v", ok, err)
	}
	if product.Name != "Widget" || product.Attributes["sale_price_net"] != "19.99" {
		t.Fatalf("product = %+v", product)
	}

	stored, _, _ := h.st.GetProfile(ctx, "t1", p.ID)
	if stored.LastFetchedAt == nil || stored.NextRunAt == nil || !stored.NextRunAt.After(*stored.LastFetchedAt) {
		t.Fatalf("profile bookkeeping = %+v", stored)
	}
}

func TestSyncMappingsRejectsUnknownHeaders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.writeSource(t, "feed.csv", "nazwa;cena;ean\n")
	p := h.csvProfile(t, "feed.csv", 0)
	if _, err := h.syncer.RefreshHeaders(ctx, "t1", p.ID); err != nil {
		t.Fatalf("refresh headers: %v", err)
	}

	_, err := h.syncer.SyncMappings(ctx, "t1", p.ID, []models.MappingRule{
		{TargetType: models.TargetTypeProduct, SourceField: "nazwa", TargetField: "name"},
		{TargetType: models.TargetTypeProduct, SourceField: "cena_brutto", TargetField: "sale_price_gross"},
	})
	if !errors.Is(err, models.ErrInvalidConfig) || !strings.Contains(err.Error(), "cena_brutto") {
		t.Fatalf("expected invalid config naming the column, got %v", err)
	}
	stored, err := h.st.ListMappings(ctx, "t1", p.ID)
	if err != nil || len(stored) != 0 {
		t.Fatalf("mappings = %v err=%v", stored, err)
	}
}

func TestChunksCompleteInAnyOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.writeSource(t, "feed.csv", "sku;name\nA;Alpha\nB;Beta\nC;x\"y\nD;Delta\nE;Echo\n")
	p := h.csvProfile(t, "feed.csv", 2)
	h.mapColumns(t, p.ID, "sku", "sku", "name", "name")

	run, err := h.syncer.RunProfileImport(ctx, "t1", p.ID)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	chunks := h.queue.take(TaskProfileChunk)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	for i := len(chunks) - 1; i >= 0; i-- {
		if err := h.queue.run(ctx, chunks[i]); err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		current, _ := h.tracker.Get(ctx, "t1", run.ID)
		if i > 0 && current.Status != models.RunStatusRunning {
			t.Fatalf("run finished early after chunk %d: %+v", i, current)
		}
	}
	done, _ := h.tracker.Get(ctx, "t1", run.ID)
	if done.Status != models.RunStatusCompletedWithErrors || done.Processed != 5 || done.Success != 4 || done.Failure != 1 {
		t.Fatalf("run = %+v", done)
	}
	if len(done.Errors) != 1 || !strings.Contains(done.Errors[0], "line 4") {
		t.Fatalf("errors = %v", done.Errors)
	}

	// A second pass over the same file changes nothing.
	again, err := h.syncer.RunProfileImport(ctx, "t1", p.ID)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	h.runChunks(t, h.queue.take(TaskProfileChunk))
	done, _ = h.tracker.Get(ctx, "t1", again.ID)
	if done.Skipped != 4 || done.Success != 0 {
		t.Fatalf("second run = %+v", done)
	}
}

func TestEmptySourceCompletesWithoutChunks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.writeSource(t, "feed.csv", "sku;name\n")
	p := h.csvProfile(t, "feed.csv", 0)
	h.mapColumns(t, p.ID, "sku", "sku", "name", "name")

	run, err := h.syncer.RunProfileImport(ctx, "t1", p.ID)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if run.Status != models.RunStatusCompleted || run.Processed != 0 || run.Message == nil {
		t.Fatalf("run = %+v", run)
	}
	if n := len(h.queue.take(TaskProfileChunk)); n != 0 {
		t.Fatalf("chunks = %d", n)
	}
}

func TestSourceAndConfigErrorsFailTheRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	missing := h.csvProfile(t, "missing.csv", 0)
	run, err := h.syncer.RunProfileImport(ctx, "t1", missing.ID)
	if !errors.Is(err, source.ErrSourceNotFound) || run.Status != models.RunStatusFailed {
		t.Fatalf("run=%+v err=%v", run, err)
	}
	stored, _, _ := h.st.GetProfile(ctx, "t1", missing.ID)
	if stored.LastFetchedAt != nil || stored.NextRunAt == nil {
		t.Fatalf("profile = %+v", stored)
	}

	// Queued through the API path: the handler reports the failure on the run
	// and does not ask the queue for a retry.
	h.writeSource(t, "feed.csv", "sku;name\nA;Alpha\n")
	unmapped := h.csvProfile(t, "feed.csv", 0)
	started, err := h.syncer.StartProfileImport(ctx, "t1", unmapped.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	queued := h.queue.take(TaskProfileImport)
	if len(queued) != 1 {
		t.Fatalf("queued = %d", len(queued))
	}
	if err := h.queue.run(ctx, queued[0]); err != nil {
		t.Fatalf("handler: %v", err)
	}
	failed, _ := h.tracker.Get(ctx, "t1", started.ID)
	if failed.Status != models.RunStatusFailed || failed.Message == nil || !strings.Contains(*failed.Message, "no field mappings") {
		t.Fatalf("run = %+v", failed)
	}
}

func TestDispatchDueClaimsEachTickOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.writeSource(t, "feed.csv", "sku;name\n")
	p := h.csvProfile(t, "feed.csv", 0)
	if _, err := h.st.CreateIntegration(ctx, "t1", models.IntegrationCreateRequest{
		Name:             "shop",
		Transport:        models.TransportAPI,
		APIBaseURL:       "https://shop.example/api",
		APIKey:           "key",
		OrderSyncMinutes: 30,
	}, time.Now().UTC()); err != nil {
		t.Fatalf("create integration: %v", err)
	}

	later := time.Now().UTC().Add(2 * time.Hour)
	summary, err := h.syncer.DispatchDue(ctx, later)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if summary.Profiles != 1 || summary.Orders != 1 || summary.Availability != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	summary, err = h.syncer.DispatchDue(ctx, later)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if summary.Profiles != 0 || summary.Orders != 0 {
		t.Fatalf("second summary = %+v", summary)
	}

	queued := h.queue.take(TaskProfileImport)
	if len(queued) != 1 {
		t.Fatalf("profile tasks = %d", len(queued))
	}
	var payload ProfileImportPayload
	if err := json.Unmarshal(queued[0].Payload, &payload); err != nil || payload.ProfileID != p.ID || payload.TenantID != "t1" {
		t.Fatalf("payload = %+v err=%v", payload, err)
	}
	stored, _, _ := h.st.GetProfile(ctx, "t1", p.ID)
	if stored.NextRunAt == nil || !stored.NextRunAt.After(later) {
		t.Fatalf("next run = %v", stored.NextRunAt)
	}
	if n := len(h.queue.take(TaskOrdersImport)); n != 1 {
		t.Fatalf("order tasks = %d", n)
	}
}

func TestSchedulerStandsByWhileLockIsHeld(t *testing.T) {
	h := newHarness(t)
	h.writeSource(t, "feed.csv", "sku;name\n")
	p := h.csvProfile(t, "feed.csv", 0)
	past := time.Now().UTC().Add(-time.Minute)
	if err := h.st.SetProfileNextRun(context.Background(), "t1", p.ID, &past, time.Now().UTC()); err != nil {
		t.Fatalf("set next run: %v", err)
	}

	held, err := dirlock.AcquireNamed(h.dataDir, schedulerLockName)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.syncer.RunScheduler(ctx, 10*time.Millisecond)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	time.Sleep(50 * time.Millisecond)
	if n := len(h.queue.take(TaskProfileImport)); n != 0 {
		t.Fatalf("dispatched %d tasks without the lock", n)
	}
	if err := held.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if n := len(h.queue.take(TaskProfileImport)); n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("scheduler never dispatched after the lock was released")
}

func TestIntegrationSyncsRecordRuns(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	integ, err := h.st.CreateIntegration(ctx, "t1", models.IntegrationCreateRequest{
		Name:       "shop",
		Transport:  models.TransportAPI,
		APIBaseURL: "https://shop.example/api",
		APIKey:     "key",
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("create integration: %v", err)
	}
	for i := 1; i <= 3; i++ {
		total := float64(i) * 10
		h.driver.orders = append(h.driver.orders, remote.Order{
			ExternalID: fmt.Sprintf("%d", i),
			Status:     "paid",
			TotalGross: &total,
		})
	}

	run, summary, err := h.syncer.ImportOrders(ctx, "t1", integ.ID, reconcile.ImportOptions{})
	if err != nil {
		t.Fatalf("import orders: %v", err)
	}
	if run.Kind != models.RunKindOrderImport || run.Status != models.RunStatusCompleted || run.Success != 3 || summary.Created != 3 {
		t.Fatalf("run=%+v summary=%+v", run, summary)
	}
	if len(run.Samples) != 3 {
		t.Fatalf("samples = %v", run.Samples)
	}

	// The scheduled task reimports from the last sync; nothing changed.
	if err := h.queue.run(ctx, queuedTask{Name: TaskOrdersImport, Payload: json.RawMessage(`{"tenantId":"t1","integrationId":"` + integ.ID + `"}`)}); err != nil {
		t.Fatalf("orders task: %v", err)
	}
	list, err := h.tracker.List(ctx, "t1", store.RunFilter{})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(list.Items) != 2 {
		t.Fatalf("runs = %d", len(list.Items))
	}
	if n, _ := h.st.CountOrders(ctx, "t1", integ.ID); n != 3 {
		t.Fatalf("orders = %d", n)
	}
	if h.driver.closed != 2 {
		t.Fatalf("driver closed %d times", h.driver.closed)
	}

	h.driverErr = fmt.Errorf("%w: api key rejected", models.ErrInvalidConfig)
	failed, _, err := h.syncer.SyncSupplierAvailability(ctx, "t1", integ.ID, reconcile.AvailabilityOptions{})
	if !errors.Is(err, models.ErrInvalidConfig) || failed.Status != models.RunStatusFailed || failed.Kind != models.RunKindAvailabilitySync {
		t.Fatalf("run=%+v err=%v", failed, err)
	}
}

func TestManualLinkThenInventory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	integ, err := h.st.CreateIntegration(ctx, "t1", models.IntegrationCreateRequest{
		Name:       "shop",
		Transport:  models.TransportAPI,
		APIBaseURL: "https://shop.example/api",
		APIKey:     "key",
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("create integration: %v", err)
	}
	product, err := h.st.CreateProduct(ctx, models.Product{TenantID: "t1", SKU: "A-1", Name: "Widget", StockQuantity: 7}, time.Now().UTC())
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	if _, err := h.syncer.SetManualLink(ctx, "t1", integ.ID, product.ID, "901"); err != nil {
		t.Fatalf("manual link: %v", err)
	}
	if _, err := h.syncer.SetManualLink(ctx, "t1", "missing", product.ID, "901"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	run, summary, err := h.syncer.SyncIntegrationInventory(ctx, "t1", integ.ID, reconcile.InventoryOptions{})
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if summary.Synced != 1 || run.Success != 1 || h.driver.stock["901"] != 7 {
		t.Fatalf("run=%+v summary=%+v stock=%v", run, summary, h.driver.stock)
	}

	_, links, err := h.syncer.AutoMatchLinks(ctx, "t1", integ.ID, reconcile.LinkOptions{})
	if err != nil {
		t.Fatalf("auto match: %v", err)
	}
	if links.SkippedManual != 1 {
		t.Fatalf("links = %+v", links)
	}
}

func TestUpdateNextRunPersistsSchedule(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	h.syncer.now = func() time.Time { return now }
	p := h.csvProfile(t, "feed.csv", 0)

	next, err := h.syncer.UpdateNextRun(ctx, p)
	if err != nil {
		t.Fatalf("update next run: %v", err)
	}
	if next == nil || !next.Equal(now.Add(time.Hour)) {
		t.Fatalf("next = %v, want %v", next, now.Add(time.Hour))
	}
	stored, _, _ := h.st.GetProfile(ctx, "t1", p.ID)
	if stored.NextRunAt == nil || !stored.NextRunAt.Equal(*next) {
		t.Fatalf("stored next run = %v", stored.NextRunAt)
	}

	p.Active = false
	next, err = h.syncer.UpdateNextRun(ctx, p)
	if err != nil {
		t.Fatalf("update inactive: %v", err)
	}
	if next != nil {
		t.Fatalf("inactive profile next = %v, want nil", next)
	}
	stored, _, _ = h.st.GetProfile(ctx, "t1", p.ID)
	if stored.NextRunAt != nil {
		t.Fatalf("stored next run = %v, want nil", stored.NextRunAt)
	}
}
