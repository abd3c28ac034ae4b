package remote

import (
	"context"
	"errors"
	"net"
	"time"
)

const (
	CodeNotFound        = "not_found"
	CodeRateLimited     = "rate_limited"
	CodeUpstreamTimeout = "upstream_timeout"
	CodeNetworkError    = "network_error"
	CodeUpstreamError   = "upstream_error"
	CodeInvalidResponse = "invalid_response"
)

// Error is a storefront call failure with a stable code.
type Error struct {
	Code       string
	Op         string
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return e.Op + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func newError(code, op, message string, cause error) *Error {
	return &Error{Code: code, Op: op, Message: message, cause: cause}
}

// ErrorCode returns the code of err, or upstream_error when err is not coded.
func ErrorCode(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeUpstreamTimeout
	}
	return CodeUpstreamError
}

// Transient reports whether retrying the call later could succeed.
func Transient(err error) bool {
	switch ErrorCode(err) {
	case CodeRateLimited, CodeUpstreamTimeout, CodeNetworkError:
		return true
	default:
		return false
	}
}

// classifyTransport maps a client-side failure to a code.
func classifyTransport(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(CodeUpstreamTimeout, op, "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(CodeUpstreamTimeout, op, "request timed out", err)
	}
	return newError(CodeNetworkError, op, err.Error(), err)
}
