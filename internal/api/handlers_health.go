package api

import (
	"context"
	"net/http"
	"time"
)

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeReadyStatus(w, http.StatusServiceUnavailable, "store_unavailable")
		return
	}
	if s.tasks == nil {
		writeReadyStatus(w, http.StatusServiceUnavailable, "tasks_unavailable")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeReadyStatus(w, http.StatusServiceUnavailable, "db_error")
		return
	}

	writeReadyStatus(w, http.StatusOK, "ok")
}

func writeReadyStatus(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body + "\n"))
}
