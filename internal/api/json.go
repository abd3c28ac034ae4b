package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"shopsync/internal/logging"
	"shopsync/internal/models"
	"shopsync/internal/parser"
	"shopsync/internal/remote"
	"shopsync/internal/runs"
	"shopsync/internal/source"
	"shopsync/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	resp := models.ErrorResponse{
		Error: models.APIError{
			Code:            code,
			Message:         message,
			NormalizedError: normalizeErrorCode(code),
			Details:         details,
		},
	}
	if resp.Error.NormalizedError != nil && resp.Error.NormalizedError.Code == models.NormalizedErrorRateLimited {
		if w.Header().Get("Retry-After") == "" {
			w.Header().Set("Retry-After", "3")
		}
	}
	writeJSON(w, status, resp)
}

func normalizeErrorCode(code string) *models.NormalizedError {
	switch code {
	case "not_found", "profile_not_found", "integration_not_found", "run_not_found", "source_not_found":
		return &models.NormalizedError{Code: models.NormalizedErrorNotFound}
	case "rate_limited", "too_many_requests":
		return &models.NormalizedError{Code: models.NormalizedErrorRateLimited, Retryable: true}
	case remote.CodeNetworkError, "source_fetch_failed":
		return &models.NormalizedError{Code: models.NormalizedErrorNetworkError, Retryable: true}
	case remote.CodeUpstreamTimeout:
		return &models.NormalizedError{Code: models.NormalizedErrorUpstreamTimeout, Retryable: true}
	case "invalid_config", "malformed_source":
		return &models.NormalizedError{Code: models.NormalizedErrorInvalidConfig}
	case "run_finished":
		return &models.NormalizedError{Code: models.NormalizedErrorConflict}
	case remote.CodeUpstreamError, remote.CodeInvalidResponse:
		return &models.NormalizedError{Code: models.NormalizedErrorUnknown, Retryable: code == remote.CodeUpstreamError}
	default:
		return nil
	}
}

// writeServiceError maps domain errors onto HTTP statuses. Anything
// unclassified is logged and reported as an internal error with fallback.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var re *remote.Error
	switch {
	case errors.Is(err, models.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, "invalid_config", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, source.ErrSourceNotFound):
		writeError(w, http.StatusUnprocessableEntity, "source_not_found", err.Error(), nil)
	case errors.Is(err, source.ErrSourceFetchFailed):
		writeError(w, http.StatusBadGateway, "source_fetch_failed", err.Error(), nil)
	case errors.Is(err, parser.ErrMalformedSource):
		writeError(w, http.StatusUnprocessableEntity, "malformed_source", err.Error(), nil)
	case errors.Is(err, runs.ErrRunFinished):
		writeError(w, http.StatusConflict, "run_finished", err.Error(), nil)
	case errors.As(err, &re):
		details := map[string]any{"op": re.Op}
		if re.RetryAfter > 0 {
			secs := int64(re.RetryAfter.Seconds())
			details["retryAfterSeconds"] = secs
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		}
		writeError(w, http.StatusBadGateway, re.Code, re.Error(), details)
	default:
		logging.ErrorFields(fallback, map[string]any{"event": "api.internal_error", "error": err.Error()})
		writeError(w, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// decodeOptionalJSON accepts an empty body and leaves dst untouched.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	err := decodeJSON(r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
