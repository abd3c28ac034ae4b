package api

import (
	"fmt"
	"net/http"
	"time"

	"shopsync/internal/ws"
)

func (s *server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming not supported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	_, _ = fmt.Fprintf(w, ": ok\n\n")
	flusher.Flush()

	afterSeq := parseAfterSeq(r.Header.Get("Last-Event-ID"))
	if afterSeq == 0 {
		afterSeq = parseAfterSeq(r.URL.Query().Get("afterSeq"))
	}

	client, backlog := s.hub.SubscribeFrom(tenantFromContext(r.Context()), afterSeq)
	defer s.hub.Unsubscribe(client)
	if s.metrics != nil {
		s.metrics.IncEventsConnections()
		defer s.metrics.DecEventsConnections()
	}

	for _, msg := range backlog {
		writeSSEMessage(w, msg)
	}
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			writeSSEMessage(w, msg)
			flusher.Flush()
		}
	}
}

func writeSSEMessage(w http.ResponseWriter, msg ws.Message) {
	_, _ = fmt.Fprintf(w, "id: %d\n", msg.Seq)
	if msg.Type != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", msg.Type)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", msg.Data)
}
