package ws

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventRunStarted   = "run.started"
	EventRunProgress  = "run.progress"
	EventRunCompleted = "run.completed"
	EventTaskFailed   = "task.failed"
)

type Event struct {
	Type     string `json:"type"`
	Ts       string `json:"ts"`
	Seq      int64  `json:"seq"`
	TenantID string `json:"tenantId,omitempty"`
	RunID    string `json:"runId,omitempty"`
	Payload  any    `json:"payload,omitempty"`
}

type Message struct {
	Seq      int64
	Type     string
	TenantID string
	Data     []byte
}

type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	seq     int64
	buffer  []Message
}

// Client receives events of one tenant; an empty tenant receives everything.
type Client struct {
	send     chan Message
	tenantID string
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
	}
}

func (h *Hub) Subscribe(tenantID string) *Client {
	c, _ := h.SubscribeFrom(tenantID, 0)
	return c
}

// SubscribeFrom registers a client and returns buffered messages newer than
// afterSeq so a reconnecting client can resume.
func (h *Hub) SubscribeFrom(tenantID string, afterSeq int64) (client *Client, backlog []Message) {
	c := &Client{send: make(chan Message, 128), tenantID: tenantID}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}

	if afterSeq > 0 && len(h.buffer) > 0 {
		out := make([]Message, 0, len(h.buffer))
		for _, msg := range h.buffer {
			if msg.Seq > afterSeq && c.wants(msg) {
				out = append(out, msg)
			}
		}
		backlog = out
	}
	return c, backlog
}

func (c *Client) Messages() <-chan Message {
	return c.send
}

func (c *Client) wants(msg Message) bool {
	return c.tenantID == "" || msg.TenantID == "" || msg.TenantID == c.tenantID
}

func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()
}

func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	evt.Seq = h.seq
	evt.Ts = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(evt)
	if err != nil {
		return
	}

	msg := Message{Seq: evt.Seq, Type: evt.Type, TenantID: evt.TenantID, Data: data}

	const maxBuffered = 512
	h.buffer = append(h.buffer, msg)
	if len(h.buffer) > maxBuffered {
		h.buffer = h.buffer[len(h.buffer)-maxBuffered:]
	}

	for c := range h.clients {
		if !c.wants(msg) {
			continue
		}
		// Slow clients drop events rather than block publishers.
		select {
		case c.send <- msg:
		default:
		}
	}
}
