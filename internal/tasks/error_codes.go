package tasks

import (
	"context"
	"errors"

	"shopsync/internal/models"
	"shopsync/internal/remote"
	"shopsync/internal/store"
)

const (
	ErrorCodeInvalidConfig   = "invalid_config"
	ErrorCodeNotFound        = "not_found"
	ErrorCodeRateLimited     = "rate_limited"
	ErrorCodeUpstreamTimeout = "upstream_timeout"
	ErrorCodeNetworkError    = "network_error"
	ErrorCodeUpstreamError   = "upstream_error"
	ErrorCodeInvalidPayload  = "invalid_payload"
	ErrorCodeUnknownTask     = "unknown_task"
	ErrorCodeUnknown         = "unknown"
)

type taskError struct {
	code      string
	message   string
	cause     error
	permanent bool
}

func (e *taskError) Error() string {
	return e.message
}

func (e *taskError) Unwrap() error {
	return e.cause
}

// Permanent marks err as not worth retrying.
func Permanent(code string, err error) error {
	if err == nil {
		return nil
	}
	return &taskError{code: code, message: err.Error(), cause: err, permanent: true}
}

// ErrorCode classifies a handler error for the task row and metrics.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var te *taskError
	if errors.As(err, &te) {
		return te.code
	}
	var re *remote.Error
	if errors.As(err, &re) {
		return re.Code
	}
	switch {
	case errors.Is(err, models.ErrInvalidConfig):
		return ErrorCodeInvalidConfig
	case errors.Is(err, store.ErrNotFound):
		return ErrorCodeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorCodeUpstreamTimeout
	default:
		return ErrorCodeUnknown
	}
}

// retryable reports whether another attempt could succeed. Configuration
// problems and missing entities fail immediately.
func retryable(err error) bool {
	var te *taskError
	if errors.As(err, &te) && te.permanent {
		return false
	}
	switch ErrorCode(err) {
	case ErrorCodeInvalidConfig, ErrorCodeNotFound, ErrorCodeInvalidPayload, ErrorCodeUnknownTask, remote.CodeInvalidResponse:
		return false
	default:
		return true
	}
}
