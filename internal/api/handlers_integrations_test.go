package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"shopsync/internal/models"
)

func (e *testEnv) createIntegration(t *testing.T) models.Integration {
	t.Helper()
	res := doJSONRequest(t, e.srv, http.MethodPost, "/api/v1/integrations", models.IntegrationCreateRequest{
		Name:       "shop",
		Transport:  models.TransportAPI,
		APIBaseURL: "https://shop.example.com/api",
		APIKey:     "KEY123",
	})
	defer res.Body.Close()
	expectStatus(t, res, http.StatusCreated)
	body, _ := io.ReadAll(res.Body)
	if strings.Contains(string(body), "KEY123") {
		t.Fatalf("api key leaked in response: %s", body)
	}
	var integ models.Integration
	if err := jsonUnmarshal(body, &integ); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return integ
}

func TestIntegrationLifecycle(t *testing.T) {
	env := newTestServer(t)
	integ := env.createIntegration(t)
	if !integ.Active || integ.MatchStrategy != models.MatchStrategySKUOrEAN {
		t.Fatalf("unexpected integration: %+v", integ)
	}

	inactive := false
	res := doJSONRequest(t, env.srv, http.MethodPatch, "/api/v1/integrations/"+integ.ID, models.IntegrationUpdateRequest{Active: &inactive})
	expectStatus(t, res, http.StatusOK)
	var updated models.Integration
	decodeJSONResponse(t, res, &updated)
	res.Body.Close()
	if updated.Active {
		t.Fatalf("integration still active")
	}

	res = doJSONRequest(t, env.srv, http.MethodPost, "/api/v1/integrations/"+integ.ID+"/inventory/sync", nil)
	expectStatus(t, res, http.StatusBadRequest)
	res.Body.Close()

	res = doJSONRequest(t, env.srv, http.MethodDelete, "/api/v1/integrations/"+integ.ID, nil)
	expectStatus(t, res, http.StatusNoContent)
	res.Body.Close()

	res = doJSONRequest(t, env.srv, http.MethodGet, "/api/v1/integrations/"+integ.ID, nil)
	expectStatus(t, res, http.StatusNotFound)
	res.Body.Close()
}

func TestCreateIntegrationRequiresCredentials(t *testing.T) {
	env := newTestServer(t)
	res := doJSONRequest(t, env.srv, http.MethodPost, "/api/v1/integrations", models.IntegrationCreateRequest{
		Name:      "shop",
		Transport: models.TransportAPI,
	})
	defer res.Body.Close()
	expectStatus(t, res, http.StatusBadRequest)
}

func TestManualLinkThenInventorySync(t *testing.T) {
	env := newTestServer(t)
	integ := env.createIntegration(t)
	product, err := env.store.CreateProduct(context.Background(), models.Product{
		TenantID:      testTenant,
		SKU:           "W-1",
		Name:          "Widget",
		StockQuantity: 7,
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	linkPath := "/api/v1/integrations/" + integ.ID + "/links/" + product.ID
	res := doJSONRequest(t, env.srv, http.MethodPut, linkPath, models.ManualLinkRequest{})
	expectStatus(t, res, http.StatusBadRequest)
	res.Body.Close()

	res = doJSONRequest(t, env.srv, http.MethodPut, "/api/v1/integrations/"+integ.ID+"/links/missing", models.ManualLinkRequest{ExternalProductID: "42"})
	expectStatus(t, res, http.StatusNotFound)
	res.Body.Close()

	res = doJSONRequest(t, env.srv, http.MethodPut, linkPath, models.ManualLinkRequest{ExternalProductID: "42"})
	expectStatus(t, res, http.StatusOK)
	var link models.MatchLink
	decodeJSONResponse(t, res, &link)
	res.Body.Close()
	if !link.IsManual || link.MatchedBy != models.MatchedByManual || link.ExternalProductID == nil || *link.ExternalProductID != "42" {
		t.Fatalf("unexpected link: %+v", link)
	}

	res = doJSONRequest(t, env.srv, http.MethodPost, "/api/v1/integrations/"+integ.ID+"/inventory/sync", nil)
	expectStatus(t, res, http.StatusOK)
	var out struct {
		Run     models.Run     `json:"run"`
		Summary map[string]any `json:"summary"`
	}
	decodeJSONResponse(t, res, &out)
	res.Body.Close()
	if out.Run.Status != models.RunStatusCompleted || out.Run.Kind != models.RunKindInventorySync {
		t.Fatalf("unexpected run: %+v", out.Run)
	}
	if out.Summary["synced"] != float64(1) {
		t.Fatalf("summary = %v", out.Summary)
	}
	if got := res.Header.Get("X-Run-Id"); got != out.Run.ID {
		t.Fatalf("X-Run-Id = %q, want %q", got, out.Run.ID)
	}
	env.driver.mu.Lock()
	qty, ok := env.driver.stock["42"]
	closed := env.driver.closed
	env.driver.mu.Unlock()
	if !ok || qty != 7 {
		t.Fatalf("pushed stock = %d (%v)", qty, ok)
	}
	if closed != 1 {
		t.Fatalf("driver closed %d times", closed)
	}

	res = doJSONRequest(t, env.srv, http.MethodPost, "/api/v1/integrations/"+integ.ID+"/inventory/sync", nil)
	expectStatus(t, res, http.StatusOK)
	decodeJSONResponse(t, res, &out)
	res.Body.Close()
	if out.Summary["skipped"] != float64(1) {
		t.Fatalf("second pass summary = %v", out.Summary)
	}
}

func TestImportOrdersRejectsInvertedWindow(t *testing.T) {
	env := newTestServer(t)
	integ := env.createIntegration(t)
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)

	res := doJSONRequest(t, env.srv, http.MethodPost, "/api/v1/integrations/"+integ.ID+"/orders/import", models.OrdersImportRequest{From: &from, To: &to})
	defer res.Body.Close()
	expectStatus(t, res, http.StatusBadRequest)
}

func TestImportOrdersWithEmptyStorefront(t *testing.T) {
	env := newTestServer(t)
	integ := env.createIntegration(t)

	res := doJSONRequest(t, env.srv, http.MethodPost, "/api/v1/integrations/"+integ.ID+"/orders/import", nil)
	defer res.Body.Close()
	expectStatus(t, res, http.StatusOK)
	var out models.SyncResponse
	decodeJSONResponse(t, res, &out)
	if out.Run.Kind != models.RunKindOrderImport || !out.Run.Status.Terminal() {
		t.Fatalf("unexpected run: %+v", out.Run)
	}
}

func TestGetMetaReportsQueue(t *testing.T) {
	env := newTestServer(t)
	res := doJSONRequest(t, env.srv, http.MethodGet, "/api/v1/meta", nil)
	defer res.Body.Close()
	expectStatus(t, res, http.StatusOK)

	var meta models.MetaResponse
	decodeJSONResponse(t, res, &meta)
	if meta.Version == "" || meta.DBBackend != "sqlite" || meta.Queue.Capacity <= 0 {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if !meta.SchedulerEnabled || meta.SchedulerIntervalSeconds != 60 {
		t.Fatalf("unexpected scheduler meta: %+v", meta)
	}
}
