package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"shopsync/internal/models"
)

func (s *server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.ListProfiles(r.Context(), tenantFromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list profiles", nil)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req models.ProfileCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body", map[string]any{"error": err.Error()})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.SourceLocation = strings.TrimSpace(req.SourceLocation)
	if req.Name == "" || req.SourceLocation == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name and sourceLocation are required", nil)
		return
	}
	tenantID := tenantFromContext(r.Context())
	if req.IntegrationID != nil && !s.integrationExists(w, r, tenantID, *req.IntegrationID) {
		return
	}

	profile, err := s.store.CreateProfile(r.Context(), tenantID, req, time.Now().UTC())
	if err != nil {
		writeServiceError(w, err, "failed to create profile")
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileId")
	profile, ok, err := s.store.GetProfile(r.Context(), tenantFromContext(r.Context()), profileID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load profile", nil)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "profile_not_found", "profile not found", map[string]any{"profileId": profileID})
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileId")

	var req models.ProfileUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body", map[string]any{"error": err.Error()})
		return
	}
	if req.Name != nil {
		v := strings.TrimSpace(*req.Name)
		if v == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "name must not be empty", nil)
			return
		}
		req.Name = &v
	}
	if req.SourceLocation != nil {
		v := strings.TrimSpace(*req.SourceLocation)
		if v == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "sourceLocation must not be empty", nil)
			return
		}
		req.SourceLocation = &v
	}

	profile, ok, err := s.store.UpdateProfile(r.Context(), tenantFromContext(r.Context()), profileID, req, time.Now().UTC())
	if err != nil {
		writeServiceError(w, err, "failed to update profile")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "profile_not_found", "profile not found", map[string]any{"profileId": profileID})
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileId")
	ok, err := s.store.DeleteProfile(r.Context(), tenantFromContext(r.Context()), profileID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete profile", nil)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "profile_not_found", "profile not found", map[string]any{"profileId": profileID})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	profileID := chi.URLParam(r, "profileId")
	if !s.profileExists(w, r, tenantID, profileID) {
		return
	}
	mappings, err := s.store.ListMappings(r.Context(), tenantID, profileID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list mappings", nil)
		return
	}
	writeJSON(w, http.StatusOK, mappings)
}

// handleReplaceMappings swaps the whole mapping set. Rules naming a column the
// source does not have are rejected before anything is stored.
func (s *server) handleReplaceMappings(w http.ResponseWriter, r *http.Request) {
	var req models.MappingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body", map[string]any{"error": err.Error()})
		return
	}
	mappings, err := s.syncer.SyncMappings(r.Context(), tenantFromContext(r.Context()), chi.URLParam(r, "profileId"), req.Mappings)
	if err != nil {
		writeServiceError(w, err, "failed to save mappings")
		return
	}
	writeJSON(w, http.StatusOK, mappings)
}

func (s *server) handleRefreshHeaders(w http.ResponseWriter, r *http.Request) {
	headers, err := s.syncer.RefreshHeaders(r.Context(), tenantFromContext(r.Context()), chi.URLParam(r, "profileId"))
	if err != nil {
		writeServiceError(w, err, "failed to read source headers")
		return
	}
	writeJSON(w, http.StatusOK, models.HeadersResponse{Headers: headers})
}

// handleRunProfile queues an import and answers with the pending run; chunk
// progress arrives over /events and /ws.
func (s *server) handleRunProfile(w http.ResponseWriter, r *http.Request) {
	run, err := s.syncer.StartProfileImport(r.Context(), tenantFromContext(r.Context()), chi.URLParam(r, "profileId"))
	if err != nil {
		writeServiceError(w, err, "failed to start import")
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/runs/%s", run.ID))
	writeJSON(w, http.StatusAccepted, run)
}

func (s *server) handleListProfileRuns(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	profileID := chi.URLParam(r, "profileId")
	if !s.profileExists(w, r, tenantID, profileID) {
		return
	}
	filter, ok := parseRunFilter(w, r)
	if !ok {
		return
	}
	filter.ProfileID = &profileID
	s.writeRuns(w, r, filter)
}

func (s *server) profileExists(w http.ResponseWriter, r *http.Request, tenantID, profileID string) bool {
	_, ok, err := s.store.GetProfile(r.Context(), tenantID, profileID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load profile", nil)
		return false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "profile_not_found", "profile not found", map[string]any{"profileId": profileID})
		return false
	}
	return true
}

func (s *server) integrationExists(w http.ResponseWriter, r *http.Request, tenantID, integrationID string) bool {
	_, ok, err := s.store.GetIntegration(r.Context(), tenantID, integrationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load integration", nil)
		return false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "integration_not_found", "integration not found", map[string]any{"integrationId": integrationID})
		return false
	}
	return true
}
