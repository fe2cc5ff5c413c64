package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/dropalltables/oncall/internal/events"
	"github.com/dropalltables/oncall/internal/metrics"
	"github.com/dropalltables/oncall/internal/models"
	"github.com/dropalltables/oncall/internal/push"
	"github.com/dropalltables/oncall/internal/storage"
)

const wsWriteTimeout = 5 * time.Second

type WSHandler struct {
	store      storage.Storage
	dispatcher *push.Dispatcher
	hub        *events.Hub
	token      string
	log        zerolog.Logger
}

func NewWSHandler(deps Deps, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		hub:        deps.Hub,
		token:      deps.Token,
		log:        log,
	}
}

// Connect upgrades the request to a WebSocket, checks the credential once,
// and then relays hub events to the connection until either side closes.
// An invalid credential closes the socket with a policy-violation code
// before any payload is sent.
func (h *WSHandler) Connect(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.CloseNow()

	if !tokenMatches(r.URL.Query().Get("token"), h.token) {
		c.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}

	client := h.hub.Register()
	defer h.hub.Unregister(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	count, err := h.store.CountSubscriptions(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to count subscriptions")
	}
	if err := wsjson.Write(ctx, c, map[string]interface{}{"type": "init", "count": count}); err != nil {
		return
	}

	// Single writer per connection: hub events flow through the client
	// channel, including events this connection's own notify raises.
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-client.Receive():
				wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
				err := c.Write(wctx, websocket.MessageText, msg)
				wcancel()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg wsInbound
		if err := wsjson.Read(ctx, c, &msg); err != nil {
			return
		}
		if msg.Type == "notify" {
			h.handleNotify(ctx, msg)
		}
	}
}

type wsInbound struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// handleNotify is the reduced realtime ingestion path: same persistence and
// push semantics as the HTTP notify, minus UI specs and webhook firing.
func (h *WSHandler) handleNotify(ctx context.Context, msg wsInbound) {
	if msg.Title == "" || msg.Body == "" {
		return
	}

	m := &models.Message{
		ID:        models.NewID("msg"),
		Title:     msg.Title,
		Body:      msg.Body,
		Kind:      models.KindNotification,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateMessage(ctx, m); err != nil {
		h.log.Error().Err(err).Msg("failed to record notification")
		return
	}
	metrics.MessagesRecorded.WithLabelValues(string(models.KindNotification)).Inc()

	results := h.dispatcher.DispatchAll(ctx, push.Payload{
		Title:     msg.Title,
		Body:      msg.Body,
		MessageID: m.ID,
	})

	h.hub.Broadcast(events.Event{
		Kind: "notification",
		Fields: map[string]interface{}{
			"messageId": m.ID,
			"title":     m.Title,
			"body":      m.Body,
			"results":   results,
		},
	})
}
