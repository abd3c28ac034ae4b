package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"shopsync/internal/db"
	"shopsync/internal/logging"
	"shopsync/internal/mapping"
	"shopsync/internal/models"
	"shopsync/internal/parser"
	"shopsync/internal/remote"
	"shopsync/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	gormDB, err := db.Open(db.Config{
		Backend:    db.BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "reconcile.db"),
	})
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
	return st
}

func newIntegration(t *testing.T, st *store.Store, req models.IntegrationCreateRequest) models.Integration {
	t.Helper()
	if req.Name == "" {
		req.Name = "shop"
	}
	req.Transport = models.TransportAPI
	req.APIBaseURL = "https://shop.example/api"
	req.APIKey = "key"
	integ, err := st.CreateIntegration(context.Background(), "t1", req, time.Now())
	if err != nil {
		t.Fatalf("create integration: %v", err)
	}
	return integ
}

type availabilityCall struct {
	ID         string
	OutOfStock bool
	Text       string
}

type fakeDriver struct {
	mu           sync.Mutex
	orders       []remote.Order
	listCalls    []remote.OrderQuery
	fetchCalls   int
	products     map[string]remote.Product
	findCalls    []string
	availability []availabilityCall
	stock        map[string]int64
	failWrites   error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{products: map[string]remote.Product{}, stock: map[string]int64{}}
}

func (f *fakeDriver) ListOrders(_ context.Context, q remote.OrderQuery) (remote.OrderPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, q)
	start := min(q.Offset, len(f.orders))
	end := min(start+q.Limit, len(f.orders))
	page := remote.OrderPage{Orders: append([]remote.Order(nil), f.orders[start:end]...), NextOffset: end, HasMore: end < len(f.orders)}
	return page, nil
}

func (f *fakeDriver) FetchOrder(_ context.Context, id string) (remote.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	for _, o := range f.orders {
		if o.ExternalID == id {
			o.Items = []models.OrderItem{{SKU: "A-1", Name: "Widget", Quantity: 1, UnitGross: 10}}
			o.Addresses = []models.OrderAddress{{Kind: "delivery", City: "Gdańsk"}}
			return o, nil
		}
	}
	return remote.Order{}, &remote.Error{Code: remote.CodeNotFound, Message: "not found"}
}

func (f *fakeDriver) FindProduct(_ context.Context, by remote.Identifier, code string) (remote.Product, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(by) + ":" + code
	f.findCalls = append(f.findCalls, key)
	p, ok := f.products[key]
	return p, ok, nil
}

func (f *fakeDriver) UpdateAvailability(_ context.Context, id string, outOfStock bool, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites != nil {
		return f.failWrites
	}
	f.availability = append(f.availability, availabilityCall{ID: id, OutOfStock: outOfStock, Text: text})
	return nil
}

func (f *fakeDriver) UpdateStock(_ context.Context, id string, qty int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites != nil {
		return f.failWrites
	}
	f.stock[id] = qty
	return nil
}

func (f *fakeDriver) Close() error { return nil }

func gross(v float64) *float64 { return &v }

func TestMatcherStrategies(t *testing.T) {
	ctx := context.Background()
	var calls []string
	lookup := func(_ context.Context, by remote.Identifier, code string) (string, bool, error) {
		calls = append(calls, string(by)+":"+code)
		if by == remote.ByEAN && code == "590" {
			return "p-ean", true, nil
		}
		return "", false, nil
	}

	calls = nil
	m, ok, err := Matcher{Strategy: models.MatchStrategySKUOrEAN}.Match(ctx, lookup, Keys{SKU: " A-1 ", EAN: "590"})
	if err != nil || !ok || m.ID != "p-ean" || m.By != models.MatchedByEAN {
		t.Fatalf("sku_or_ean: %+v ok=%v err=%v", m, ok, err)
	}
	if len(calls) != 2 || calls[0] != "sku:A-1" {
		t.Fatalf("expected sku then ean lookups, got %v", calls)
	}

	calls = nil
	if _, ok, _ := (Matcher{Strategy: models.MatchStrategySKU}).Match(ctx, lookup, Keys{SKU: "A-1", EAN: "590"}); ok || len(calls) != 1 {
		t.Fatalf("sku strategy must not try ean: ok=%v calls=%v", ok, calls)
	}

	calls = nil
	if _, ok, _ := (Matcher{}).Match(ctx, lookup, Keys{}); ok || len(calls) != 0 {
		t.Fatalf("empty keys must not look up: calls=%v", calls)
	}

	if res, done := (Matcher{Missing: models.MissingBehaviorFail}).OnMissing(Keys{SKU: "X"}); !done || res.Outcome != Failed {
		t.Fatalf("fail behavior: %+v", res)
	}
	if res, done := (Matcher{Missing: models.MissingBehaviorSkip}).OnMissing(Keys{SKU: "X"}); !done || res.Outcome != SkippedMissing {
		t.Fatalf("skip behavior: %+v", res)
	}
	if _, done := (Matcher{Missing: models.MissingBehaviorCreate}).OnMissing(Keys{SKU: "X"}); done {
		t.Fatalf("create behavior must hand back to the caller")
	}
}

func record(pairs ...string) parser.Record {
	rec := parser.Record{}
	for i := 0; i+1 < len(pairs); i += 2 {
		v := pairs[i+1]
		rec.Fields = append(rec.Fields, parser.Field{Key: parser.NormalizeKey(pairs[i]), Value: &v})
	}
	return rec
}

func TestCatalogRecordCreatesThenSkipsUnchanged(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	cat := NewCatalog(st)
	set, err := mapping.Compile([]models.MappingRule{
		{TargetType: models.TargetTypeProduct, SourceField: "nazwa", TargetField: "name", Transform: "trim"},
		{TargetType: models.TargetTypeProduct, SourceField: "cena", TargetField: "sale_price_gross", Transform: "number"},
		{TargetType: models.TargetTypeProduct, SourceField: "ean", TargetField: "ean"},
		{TargetType: models.TargetTypeProduct, SourceField: "kategoria", TargetField: "category"},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	m := Matcher{Strategy: models.MatchStrategySKUOrEAN, Missing: models.MissingBehaviorCreate}

	first := cat.Record(ctx, "t1", m, set, record("nazwa", "Widget", "cena", "19.99", "ean", "5901234123457", "kategoria", "Tools"))
	if first.Outcome != Created {
		t.Fatalf("first = %+v", first)
	}
	p, ok, err := st.FindProductByEAN(ctx, "t1", "5901234123457")
	if err != nil || !ok {
		t.Fatalf("product not stored: ok=%v err=%v", ok, err)
	}
	if p.Name != "Widget" || p.Attributes["sale_price_gross"] != "19.99" || p.CategoryID == nil {
		t.Fatalf("stored product = %+v", p)
	}

	again := cat.Record(ctx, "t1", m, set, record("nazwa", "Widget", "cena", "19,99", "ean", "5901234123457", "kategoria", "Tools"))
	if again.Outcome != SkippedUnchanged || again.ID != p.ID {
		t.Fatalf("again = %+v", again)
	}

	changed := cat.Record(ctx, "t1", m, set, record("nazwa", "Widget", "cena", "21,50", "ean", "5901234123457", "kategoria", "Tools"))
	if changed.Outcome != Updated {
		t.Fatalf("changed = %+v", changed)
	}
	p, _, _ = st.GetProduct(ctx, "t1", p.ID)
	if p.Attributes["sale_price_gross"] != "21.5" {
		t.Fatalf("price not updated: %+v", p.Attributes)
	}

	bad := cat.Record(ctx, "t1", m, set, record("nazwa", "Broken", "cena", "abc", "ean", "1"))
	if bad.Outcome != Failed {
		t.Fatalf("invalid value must fail the record: %+v", bad)
	}

	skipper := Matcher{Strategy: models.MatchStrategySKUOrEAN, Missing: models.MissingBehaviorSkip}
	if res := cat.Record(ctx, "t1", skipper, set, record("nazwa", "Other", "ean", "999")); res.Outcome != SkippedMissing {
		t.Fatalf("skip behavior = %+v", res)
	}
}

func TestCatalogCategoryByName(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	cat := NewCatalog(st)

	res := cat.Category(ctx, "t1", mapping.Payload{"name": "Drills", "parent": "Tools"})
	if res.Outcome != Created {
		t.Fatalf("create = %+v", res)
	}
	drills, ok, _ := st.FindCategoryByName(ctx, "t1", "Drills")
	tools, ok2, _ := st.FindCategoryByName(ctx, "t1", "Tools")
	if !ok || !ok2 || drills.ParentID == nil || *drills.ParentID != tools.ID {
		t.Fatalf("parent not linked: %+v %+v", drills, tools)
	}
	if res := cat.Category(ctx, "t1", mapping.Payload{"name": "Drills", "parent": "Tools"}); res.Outcome != SkippedUnchanged {
		t.Fatalf("unchanged = %+v", res)
	}
	if res := cat.Category(ctx, "t1", mapping.Payload{"name": "Drills", "description": "Cordless"}); res.Outcome != Updated {
		t.Fatalf("update = %+v", res)
	}
	if res := cat.Category(ctx, "t1", mapping.Payload{"description": "nameless"}); res.Outcome != Failed {
		t.Fatalf("nameless category must fail: %+v", res)
	}
}

func TestOrderImportIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	integ := newIntegration(t, st, models.IntegrationCreateRequest{})
	d := newFakeDriver()
	d.orders = []remote.Order{
		{ExternalID: "1", Reference: "AAA", Status: "paid", PaymentStatus: "ok", TotalGross: gross(10)},
		{ExternalID: "2", Reference: "BBB", Status: "new", TotalGross: gross(25.5)},
	}
	imp := NewOrderImporter(st)

	first, err := imp.Import(ctx, integ, d, ImportOptions{})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if first.Created != 2 || first.Imported() != 2 {
		t.Fatalf("first = %+v", first.Tally)
	}
	stored, ok, _ := st.FindOrderByExternalID(ctx, "t1", integ.ID, "1")
	if !ok || len(stored.Items) != 1 || len(stored.Addresses) != 1 || stored.TotalGross != 10 {
		t.Fatalf("detail not stored: %+v", stored)
	}

	second, err := imp.Import(ctx, integ, d, ImportOptions{})
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if second.SkippedUnchanged != 2 || second.Imported() != 0 {
		t.Fatalf("second = %+v", second.Tally)
	}
	if count, _ := st.CountOrders(ctx, "t1", integ.ID); count != 2 {
		t.Fatalf("orders duplicated: %d", count)
	}

	d.orders[0].TotalGross = gross(10.005)
	d.orders[1].Status = "shipped"
	third, _ := imp.Import(ctx, integ, d, ImportOptions{})
	if third.Updated != 1 || third.SkippedUnchanged != 1 {
		t.Fatalf("third = %+v", third.Tally)
	}
	stored, _, _ = st.FindOrderByExternalID(ctx, "t1", integ.ID, "2")
	if stored.Status != "shipped" || stored.Reference != "BBB" {
		t.Fatalf("merge = %+v", stored)
	}

	forced, _ := imp.Import(ctx, integ, d, ImportOptions{Force: true})
	if forced.Updated != 2 {
		t.Fatalf("forced = %+v", forced.Tally)
	}
	integ, _, _ = st.GetIntegration(ctx, "t1", integ.ID)
	if integ.LastOrdersSyncedAt == nil {
		t.Fatalf("last_orders_synced_at not stamped")
	}
}

func TestOrderImportPagination(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	integ := newIntegration(t, st, models.IntegrationCreateRequest{})
	d := newFakeDriver()
	for i := 1; i <= 120; i++ {
		d.orders = append(d.orders, remote.Order{ExternalID: strconv.Itoa(i), Status: "paid", TotalGross: gross(1)})
	}
	imp := NewOrderImporter(st)

	limited, err := imp.Import(ctx, integ, d, ImportOptions{Limit: 50, PageSize: 50})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if limited.Created != 50 || limited.Pages != 1 || len(d.listCalls) != 1 {
		t.Fatalf("limit must stop after the first page: %+v calls=%d", limited.Tally, len(d.listCalls))
	}

	d.listCalls = nil
	rest, err := imp.Import(ctx, integ, d, ImportOptions{PageSize: 50})
	if err != nil {
		t.Fatalf("import rest: %v", err)
	}
	if rest.Created != 70 || rest.SkippedUnchanged != 50 || rest.Pages != 3 {
		t.Fatalf("rest = %+v pages=%d", rest.Tally, rest.Pages)
	}
	offsets := []int{}
	for _, q := range d.listCalls {
		offsets = append(offsets, q.Offset)
	}
	if fmt.Sprint(offsets) != "[0 50 100]" {
		t.Fatalf("offsets = %v", offsets)
	}
}

func TestAutoMatchProtectsManualLinks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	integ := newIntegration(t, st, models.IntegrationCreateRequest{})
	bySKU, _ := st.CreateProduct(ctx, models.Product{TenantID: "t1", SKU: "A-1", Name: "a"}, now)
	byEAN, _ := st.CreateProduct(ctx, models.Product{TenantID: "t1", SKU: "B-1", EAN: "590", Name: "b"}, now)
	manual, _ := st.CreateProduct(ctx, models.Product{TenantID: "t1", SKU: "C-1", Name: "c"}, now)
	bare, _ := st.CreateProduct(ctx, models.Product{TenantID: "t1", Name: "d"}, now)

	d := newFakeDriver()
	d.products["sku:A-1"] = remote.Product{ExternalID: "100", SKU: "A-1"}
	d.products["ean:590"] = remote.Product{ExternalID: "200", EAN: "590"}
	d.products["sku:C-1"] = remote.Product{ExternalID: "300", SKU: "C-1"}

	lm := NewLinkMatcher(st)
	if _, err := lm.SetManualLink(ctx, "t1", integ.ID, manual.ID, "999"); err != nil {
		t.Fatalf("manual link: %v", err)
	}

	summary, err := lm.AutoMatch(ctx, integ, d, LinkOptions{})
	if err != nil {
		t.Fatalf("auto match: %v", err)
	}
	if summary.Total != 4 || summary.Matched != 2 || summary.Unmatched != 1 || summary.SkippedManual != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	link, _, _ := st.GetLink(ctx, "t1", integ.ID, manual.ID)
	if !link.IsManual || link.MatchedBy != models.MatchedByManual || *link.ExternalProductID != "999" {
		t.Fatalf("manual link overwritten: %+v", link)
	}
	link, _, _ = st.GetLink(ctx, "t1", integ.ID, bySKU.ID)
	if link.MatchedBy != models.MatchedBySKU || *link.ExternalProductID != "100" {
		t.Fatalf("sku link = %+v", link)
	}
	link, _, _ = st.GetLink(ctx, "t1", integ.ID, byEAN.ID)
	if link.MatchedBy != models.MatchedByEAN || *link.ExternalProductID != "200" {
		t.Fatalf("ean link = %+v", link)
	}
	link, ok, _ := st.GetLink(ctx, "t1", integ.ID, bare.ID)
	if !ok || link.MatchedBy != models.MatchedByNone || link.ExternalProductID != nil {
		t.Fatalf("unmatched link = %+v ok=%v", link, ok)
	}

	if _, err := lm.SetManualLink(ctx, "t1", integ.ID, "missing", "1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := lm.SetManualLink(ctx, "t1", integ.ID, bare.ID, " "); !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func linkProduct(t *testing.T, st *store.Store, integ models.Integration, p models.Product, externalID string) {
	t.Helper()
	if _, err := NewLinkMatcher(st).SetManualLink(context.Background(), integ.TenantID, integ.ID, p.ID, externalID); err != nil {
		t.Fatalf("link: %v", err)
	}
}

func TestAvailabilityThresholdIsInclusive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	integ := newIntegration(t, st, models.IntegrationCreateRequest{
		Availability: &models.AvailabilitySettings{
			MinStockThreshold:   20,
			SyncOnlyChanged:     true,
			AvailableText:       "Ships in {days} days",
			UnavailableText:     "Out",
			DefaultDeliveryDays: 2,
		},
	})
	low, _ := st.CreateProduct(ctx, models.Product{TenantID: "t1", SKU: "L", Name: "low", StockQuantity: 15}, now)
	edge, _ := st.CreateProduct(ctx, models.Product{TenantID: "t1", SKU: "E", Name: "edge", StockQuantity: 20}, now)
	linkProduct(t, st, integ, low, "1")
	linkProduct(t, st, integ, edge, "2")

	d := newFakeDriver()
	summary, err := NewAvailabilitySyncer(st).SyncSupplierAvailability(ctx, integ, d, AvailabilityOptions{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Total != 2 || summary.Synced != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	want := map[string]availabilityCall{
		"1": {ID: "1", OutOfStock: true, Text: "Out"},
		"2": {ID: "2", OutOfStock: false, Text: "Ships in 2 days"},
	}
	for _, call := range d.availability {
		if call != want[call.ID] {
			t.Fatalf("call = %+v, want %+v", call, want[call.ID])
		}
	}
}

func TestAvailabilityChangeGate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	integ := newIntegration(t, st, models.IntegrationCreateRequest{
		Availability: &models.AvailabilitySettings{MinStockThreshold: 5, SyncOnlyChanged: true},
	})
	p, _ := st.CreateProduct(ctx, models.Product{TenantID: "t1", SKU: "A", Name: "a", StockQuantity: 10}, now)
	linkProduct(t, st, integ, p, "7")
	syncer := NewAvailabilitySyncer(st)
	d := newFakeDriver()

	for i := 0; i < 2; i++ {
		if _, err := syncer.SyncSupplierAvailability(ctx, integ, d, AvailabilityOptions{}); err != nil {
			t.Fatalf("sync %d: %v", i, err)
		}
	}
	if len(d.availability) != 1 {
		t.Fatalf("expected one write for two unchanged syncs, got %d", len(d.availability))
	}

	p.StockQuantity = 0
	if _, err := st.SaveProduct(ctx, p, now); err != nil {
		t.Fatalf("save product: %v", err)
	}
	d.failWrites = errors.New("storefront down")
	summary, err := syncer.SyncSupplierAvailability(ctx, integ, d, AvailabilityOptions{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Failed != 1 || len(summary.Errors) != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	link, _, _ := st.GetLink(ctx, "t1", integ.ID, p.ID)
	if link.Availability.IsAvailable == nil || !*link.Availability.IsAvailable {
		t.Fatalf("failure must keep the last delivered availability: %+v", link.Availability)
	}
	if link.Availability.LastStatus != models.LinkStatusFailed || link.Availability.LastError == "" {
		t.Fatalf("failure not recorded: %+v", link.Availability)
	}

	d.failWrites = nil
	summary, _ = syncer.SyncSupplierAvailability(ctx, integ, d, AvailabilityOptions{})
	if summary.Synced != 1 || len(d.availability) != 2 || !d.availability[1].OutOfStock {
		t.Fatalf("retry after failure must write: %+v calls=%+v", summary, d.availability)
	}
	link, _, _ = st.GetLink(ctx, "t1", integ.ID, p.ID)
	if *link.Availability.IsAvailable || link.Availability.LastStatusChangeAt == nil {
		t.Fatalf("transition not recorded: %+v", link.Availability)
	}
}

func TestAvailabilityUnlinkedFollowsMissingBehavior(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	p, _ := st.CreateProduct(ctx, models.Product{TenantID: "t1", Name: "bare"}, now)

	for _, tc := range []struct {
		missing         models.MissingBehavior
		skipped, failed int
	}{
		{models.MissingBehaviorSkip, 1, 0},
		{models.MissingBehaviorFail, 0, 1},
	} {
		integ := newIntegration(t, st, models.IntegrationCreateRequest{Name: string(tc.missing), MissingBehavior: tc.missing})
		if _, err := NewLinkMatcher(st).AutoMatch(ctx, integ, newFakeDriver(), LinkOptions{}); err != nil {
			t.Fatalf("auto match: %v", err)
		}
		d := newFakeDriver()
		summary, err := NewAvailabilitySyncer(st).SyncSupplierAvailability(ctx, integ, d, AvailabilityOptions{ProductIDs: []string{p.ID}})
		if err != nil {
			t.Fatalf("sync: %v", err)
		}
		if summary.Skipped != tc.skipped || summary.Failed != tc.failed || len(d.availability) != 0 {
			t.Fatalf("%s: summary = %+v", tc.missing, summary)
		}
	}
}

func TestInventorySkipsUnchangedQuantity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	integ := newIntegration(t, st, models.IntegrationCreateRequest{})
	p, _ := st.CreateProduct(ctx, models.Product{TenantID: "t1", SKU: "A", Name: "a", StockQuantity: 4}, now)
	linkProduct(t, st, integ, p, "11")
	inv := NewInventorySyncer(st)
	d := newFakeDriver()

	first, err := inv.SyncIntegrationInventory(ctx, integ, d, InventoryOptions{})
	if err != nil || first.Synced != 1 || d.stock["11"] != 4 {
		t.Fatalf("first = %+v err=%v stock=%v", first, err, d.stock)
	}
	second, _ := inv.SyncIntegrationInventory(ctx, integ, d, InventoryOptions{})
	if second.Skipped != 1 || second.Synced != 0 {
		t.Fatalf("second = %+v", second)
	}
	link, _, _ := st.GetLink(ctx, "t1", integ.ID, p.ID)
	if link.Metadata.LastQuantity == nil || *link.Metadata.LastQuantity != 4 || link.Metadata.LastStatus != models.LinkStatusSynced {
		t.Fatalf("metadata = %+v", link.Metadata)
	}

	p.StockQuantity = 9
	_, _ = st.SaveProduct(ctx, p, now)
	d.failWrites = &remote.Error{Code: remote.CodeRateLimited, Message: "slow down"}
	third, _ := inv.SyncIntegrationInventory(ctx, integ, d, InventoryOptions{})
	if third.Failed != 1 {
		t.Fatalf("third = %+v", third)
	}
	link, _, _ = st.GetLink(ctx, "t1", integ.ID, p.ID)
	if *link.Metadata.LastQuantity != 4 || link.Metadata.LastStatus != models.LinkStatusFailed {
		t.Fatalf("failed push must keep last quantity: %+v", link.Metadata)
	}
}

func TestTallyCapsErrors(t *testing.T) {
	var tally Tally
	for i := 0; i < ErrorCap+3; i++ {
		tally.Add(failed(fmt.Errorf("boom %d", i)), "rec")
	}
	if tally.Failed != ErrorCap+3 || len(tally.Errors) != ErrorCap {
		t.Fatalf("tally = %+v", tally)
	}
}

type cancelingDriver struct {
	*fakeDriver
	cancel context.CancelFunc
}

func (d *cancelingDriver) UpdateStock(context.Context, string, int64) error {
	d.cancel()
	return &remote.Error{Code: remote.CodeRateLimited, Message: "slow down"}
}

func TestInventoryLogsUnrecordedFailure(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()
	integ := newIntegration(t, st, models.IntegrationCreateRequest{})
	p, _ := st.CreateProduct(context.Background(), models.Product{TenantID: "t1", SKU: "A", Name: "a", StockQuantity: 4}, now)
	linkProduct(t, st, integ, p, "11")

	var buf bytes.Buffer
	inv := NewInventorySyncer(st)
	inv.log = logging.NewWithWriter(logging.FormatJSON, &buf).With("inventory")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	summary, _ := inv.SyncIntegrationInventory(ctx, integ, &cancelingDriver{fakeDriver: newFakeDriver(), cancel: cancel}, InventoryOptions{})
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if !strings.Contains(buf.String(), "inventory_state_save_failed") {
		t.Fatalf("expected a warning for the lost failure stamp, got %q", buf.String())
	}
}
