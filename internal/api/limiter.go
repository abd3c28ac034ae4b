package api

import "net/http"

type requestLimiter struct {
	ch chan struct{}
}

func newRequestLimiter(max int) *requestLimiter {
	if max <= 0 {
		return nil
	}
	return &requestLimiter{ch: make(chan struct{}, max)}
}

func (l *requestLimiter) tryAcquire() bool {
	select {
	case l.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *requestLimiter) release() {
	select {
	case <-l.ch:
	default:
	}
}

// acquireSyncSlot bounds inline integration syncs. Each one holds a remote
// driver connection for the whole request.
func (s *server) acquireSyncSlot(w http.ResponseWriter) (func(), bool) {
	if s.syncLimit == nil {
		return func() {}, true
	}
	if s.syncLimit.tryAcquire() {
		return s.syncLimit.release, true
	}
	w.Header().Set("Retry-After", "2")
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many concurrent sync requests", map[string]any{
		"limit": s.cfg.SyncMaxConcurrentRequests,
	})
	return nil, false
}
