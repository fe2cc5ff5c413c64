package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dropalltables/oncall/internal/events"
	"github.com/dropalltables/oncall/internal/metrics"
	"github.com/dropalltables/oncall/internal/models"
	"github.com/dropalltables/oncall/internal/push"
	"github.com/dropalltables/oncall/internal/storage"
)

const maxBodySize = 256 * 1024 // 256KB

type MessageHandler struct {
	store      storage.Storage
	dispatcher *push.Dispatcher
	hub        *events.Hub
	webhooks   *events.WebhookNotifier
	log        zerolog.Logger
}

func NewMessageHandler(deps Deps, log zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		hub:        deps.Hub,
		webhooks:   deps.Webhooks,
		log:        log,
	}
}

type notifyRequest struct {
	Title string          `json:"title"`
	Body  string          `json:"body"`
	URL   string          `json:"url"`
	Tag   string          `json:"tag"`
	UI    json.RawMessage `json:"ui"`
}

// Notify persists a notification, fans it out to every push subscription,
// and raises a notification event. The operation's success is defined by
// persistence alone; delivery failures only show up in the result summary.
func (h *MessageHandler) Notify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, "title and body are required")
		return
	}

	msg := &models.Message{
		ID:        models.NewID("msg"),
		Title:     req.Title,
		Body:      req.Body,
		Kind:      models.KindNotification,
		UI:        req.UI,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateMessage(r.Context(), msg); err != nil {
		h.log.Error().Err(err).Msg("failed to record notification")
		writeError(w, http.StatusInternalServerError, "failed to record notification")
		return
	}
	metrics.MessagesRecorded.WithLabelValues(string(models.KindNotification)).Inc()

	results := h.dispatcher.DispatchAll(r.Context(), push.Payload{
		Title:     req.Title,
		Body:      req.Body,
		URL:       req.URL,
		Tag:       req.Tag,
		MessageID: msg.ID,
	})

	event := events.Event{
		Kind: "notification",
		Fields: map[string]interface{}{
			"messageId": msg.ID,
			"title":     msg.Title,
			"body":      msg.Body,
			"results":   results,
		},
	}
	h.hub.Broadcast(event)
	h.webhooks.Notify(event)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messageId": msg.ID,
		"results":   results,
	})
}

type respondRequest struct {
	MessageID string          `json:"messageId"`
	Text      string          `json:"text"`
	Data      json.RawMessage `json:"data"`
}

// Respond appends a response message linked to its parent notification.
// When messageId is omitted the latest notification is used; when the log
// holds no notification at all the response is stored unlinked.
func (h *MessageHandler) Respond(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" && len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "text or data is required")
		return
	}

	parentID := req.MessageID
	if parentID == "" {
		parent, err := h.store.LatestNotification(r.Context())
		if err != nil {
			h.log.Error().Err(err).Msg("failed to resolve parent notification")
			writeError(w, http.StatusInternalServerError, "failed to record response")
			return
		}
		if parent != nil {
			parentID = parent.ID
		}
	}

	msg := &models.Message{
		ID:        models.NewID("rsp"),
		Title:     models.ResponseTitle,
		Body:      req.Text,
		Kind:      models.KindResponse,
		ParentID:  parentID,
		Data:      req.Data,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateMessage(r.Context(), msg); err != nil {
		// A caller-supplied parent that does not exist trips the foreign key.
		if req.MessageID != "" {
			writeError(w, http.StatusBadRequest, "unknown parent message")
			return
		}
		h.log.Error().Err(err).Str("parent_id", parentID).Msg("failed to record response")
		writeError(w, http.StatusInternalServerError, "failed to record response")
		return
	}
	metrics.MessagesRecorded.WithLabelValues(string(models.KindResponse)).Inc()

	fields := map[string]interface{}{
		"responseId": msg.ID,
		"text":       req.Text,
	}
	if parentID != "" {
		fields["messageId"] = parentID
	}
	if len(req.Data) > 0 {
		fields["data"] = req.Data
	}
	event := events.Event{Kind: "response", Fields: fields}
	h.hub.Broadcast(event)
	h.webhooks.Notify(event)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         true,
		"responseId": msg.ID,
	})
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.store.ListMessages(r.Context(), 100)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list messages")
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}
