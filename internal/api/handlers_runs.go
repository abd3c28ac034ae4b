package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"shopsync/internal/models"
	"shopsync/internal/store"
)

func parseRunFilter(w http.ResponseWriter, r *http.Request) (store.RunFilter, bool) {
	q := r.URL.Query()
	var f store.RunFilter
	if raw := strings.TrimSpace(q.Get("kind")); raw != "" {
		kind := models.RunKind(raw)
		switch kind {
		case models.RunKindProfileImport, models.RunKindOrderImport, models.RunKindInventorySync,
			models.RunKindAvailabilitySync, models.RunKindLinkMatch:
		default:
			writeError(w, http.StatusBadRequest, "invalid_request", "unknown run kind", map[string]any{"kind": raw})
			return f, false
		}
		f.Kind = &kind
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := models.RunStatus(raw)
		switch status {
		case models.RunStatusPending, models.RunStatusRunning, models.RunStatusCompleted,
			models.RunStatusCompletedWithErrors, models.RunStatusFailed:
		default:
			writeError(w, http.StatusBadRequest, "invalid_request", "unknown run status", map[string]any{"status": raw})
			return f, false
		}
		f.Status = &status
	}
	if raw := strings.TrimSpace(q.Get("integrationId")); raw != "" {
		f.IntegrationID = &raw
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer", nil)
			return f, false
		}
		f.Limit = limit
	}
	if raw := strings.TrimSpace(q.Get("cursor")); raw != "" {
		f.Cursor = &raw
	}
	return f, true
}

func (s *server) writeRuns(w http.ResponseWriter, r *http.Request, f store.RunFilter) {
	resp, err := s.tracker.List(r.Context(), tenantFromContext(r.Context()), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list runs", nil)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseRunFilter(w, r)
	if !ok {
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("profileId")); raw != "" {
		filter.ProfileID = &raw
	}
	s.writeRuns(w, r, filter)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	run, err := s.tracker.Get(r.Context(), tenantFromContext(r.Context()), runID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run_not_found", "run not found", map[string]any{"runId": runID})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load run", nil)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
