package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"shopsync/internal/models"
	"shopsync/internal/reconcile"
)

func (s *server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListIntegrations(r.Context(), tenantFromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list integrations", nil)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *server) handleCreateIntegration(w http.ResponseWriter, r *http.Request) {
	var req models.IntegrationCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body", map[string]any{"error": err.Error()})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required", nil)
		return
	}
	integ, err := s.store.CreateIntegration(r.Context(), tenantFromContext(r.Context()), req, time.Now().UTC())
	if err != nil {
		writeServiceError(w, err, "failed to create integration")
		return
	}
	writeJSON(w, http.StatusCreated, integ)
}

func (s *server) handleGetIntegration(w http.ResponseWriter, r *http.Request) {
	integrationID := chi.URLParam(r, "integrationId")
	integ, ok, err := s.store.GetIntegration(r.Context(), tenantFromContext(r.Context()), integrationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load integration", nil)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "integration_not_found", "integration not found", map[string]any{"integrationId": integrationID})
		return
	}
	writeJSON(w, http.StatusOK, integ)
}

func (s *server) handleUpdateIntegration(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	integrationID := chi.URLParam(r, "integrationId")

	var req models.IntegrationUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body", map[string]any{"error": err.Error()})
		return
	}
	if req.Active != nil {
		ok, err := s.store.SetIntegrationActive(r.Context(), tenantID, integrationID, *req.Active, time.Now().UTC())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to update integration", nil)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "integration_not_found", "integration not found", map[string]any{"integrationId": integrationID})
			return
		}
	}
	s.handleGetIntegration(w, r)
}

func (s *server) handleDeleteIntegration(w http.ResponseWriter, r *http.Request) {
	integrationID := chi.URLParam(r, "integrationId")
	ok, err := s.store.DeleteIntegration(r.Context(), tenantFromContext(r.Context()), integrationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete integration", nil)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "integration_not_found", "integration not found", map[string]any{"integrationId": integrationID})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type syncFunc func(ctx context.Context, tenantID, integrationID string) (models.Run, any, error)

// runInlineSync executes one integration pass inside the request. A pass that
// failed after its run was recorded still reports the run id in X-Run-Id.
func (s *server) runInlineSync(w http.ResponseWriter, r *http.Request, fn syncFunc) {
	release, ok := s.acquireSyncSlot(w)
	if !ok {
		return
	}
	defer release()

	run, summary, err := fn(r.Context(), tenantFromContext(r.Context()), chi.URLParam(r, "integrationId"))
	if run.ID != "" {
		w.Header().Set("X-Run-Id", run.ID)
	}
	if err != nil {
		writeServiceError(w, err, "integration sync failed")
		return
	}
	writeJSON(w, http.StatusOK, models.SyncResponse{Run: run, Summary: summary})
}

func (s *server) handleImportOrders(w http.ResponseWriter, r *http.Request) {
	var req models.OrdersImportRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body", map[string]any{"error": err.Error()})
		return
	}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		writeError(w, http.StatusBadRequest, "invalid_request", "to must not be before from", nil)
		return
	}
	opts := reconcile.ImportOptions{
		From:     req.From,
		To:       req.To,
		Statuses: req.Statuses,
		Limit:    req.Limit,
		PageSize: req.PageSize,
		Force:    req.Force,
	}
	s.runInlineSync(w, r, func(ctx context.Context, tenantID, integrationID string) (models.Run, any, error) {
		return wrapSummary(s.syncer.ImportOrders(ctx, tenantID, integrationID, opts))
	})
}

func (s *server) handleSyncInventory(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSelection(w, r)
	if !ok {
		return
	}
	opts := reconcile.InventoryOptions{ProductIDs: req.ProductIDs}
	s.runInlineSync(w, r, func(ctx context.Context, tenantID, integrationID string) (models.Run, any, error) {
		return wrapSummary(s.syncer.SyncIntegrationInventory(ctx, tenantID, integrationID, opts))
	})
}

func (s *server) handleSyncAvailability(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSelection(w, r)
	if !ok {
		return
	}
	opts := reconcile.AvailabilityOptions{ProductIDs: req.ProductIDs, ContractorID: req.ContractorID, Limit: req.Limit}
	s.runInlineSync(w, r, func(ctx context.Context, tenantID, integrationID string) (models.Run, any, error) {
		return wrapSummary(s.syncer.SyncSupplierAvailability(ctx, tenantID, integrationID, opts))
	})
}

func (s *server) handleMatchLinks(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSelection(w, r)
	if !ok {
		return
	}
	opts := reconcile.LinkOptions{ProductIDs: req.ProductIDs, ContractorID: req.ContractorID, Limit: req.Limit}
	s.runInlineSync(w, r, func(ctx context.Context, tenantID, integrationID string) (models.Run, any, error) {
		return wrapSummary(s.syncer.AutoMatchLinks(ctx, tenantID, integrationID, opts))
	})
}

func (s *server) handleSetManualLink(w http.ResponseWriter, r *http.Request) {
	var req models.ManualLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body", map[string]any{"error": err.Error()})
		return
	}
	req.ExternalProductID = strings.TrimSpace(req.ExternalProductID)
	if req.ExternalProductID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "externalProductId is required", nil)
		return
	}
	link, err := s.syncer.SetManualLink(r.Context(), tenantFromContext(r.Context()), chi.URLParam(r, "integrationId"), chi.URLParam(r, "productId"), req.ExternalProductID)
	if err != nil {
		writeServiceError(w, err, "failed to set link")
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func decodeSelection(w http.ResponseWriter, r *http.Request) (models.ProductSelectionRequest, bool) {
	var req models.ProductSelectionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body", map[string]any{"error": err.Error()})
		return req, false
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must not be negative", nil)
		return req, false
	}
	return req, true
}

func wrapSummary[T any](run models.Run, summary T, err error) (models.Run, any, error) {
	return run, summary, err
}
