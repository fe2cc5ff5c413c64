// Package events broadcasts state-change events to live WebSocket observers
// and registered webhook listeners. Both sinks are best-effort and decoupled
// from the request path that triggered them.
package events

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// Event is one state-change notification. Kind drives webhook filtering;
// Fields are the event-specific payload merged into the encoded body.
type Event struct {
	Kind   string
	Fields map[string]interface{}
}

// Encode renders the event as the wire form sent to realtime observers:
// {"type": kind, ...fields}.
func (e Event) Encode() ([]byte, error) {
	body := make(map[string]interface{}, len(e.Fields)+1)
	for k, v := range e.Fields {
		body[k] = v
	}
	body["type"] = e.Kind
	return json.Marshal(body)
}

// Client is one connected realtime observer. Messages are delivered through
// a buffered channel; a client that falls behind loses events rather than
// blocking the broadcaster.
type Client struct {
	ch chan []byte
}

// Receive returns the channel the hub delivers encoded events on.
func (c *Client) Receive() <-chan []byte {
	return c.ch
}

// Hub is the registry of open realtime connections. Connect/disconnect and
// broadcast may race freely; a given client never sees an event more than
// once.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		log:     log,
	}
}

func (h *Hub) Register() *Client {
	c := &Client{ch: make(chan []byte, 16)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast delivers the event to every connected client. Sends to clients
// with a full buffer are dropped; there is no replay.
func (h *Hub) Broadcast(e Event) {
	body, err := e.Encode()
	if err != nil {
		h.log.Error().Err(err).Str("event", e.Kind).Msg("failed to encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.ch <- body:
		default:
			h.log.Debug().Str("event", e.Kind).Msg("dropping event for slow observer")
		}
	}
}
