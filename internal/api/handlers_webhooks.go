package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/dropalltables/oncall/internal/models"
	"github.com/dropalltables/oncall/internal/storage"
)

type WebhookHandler struct {
	store storage.Storage
	log   zerolog.Logger
}

func NewWebhookHandler(deps Deps, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{store: deps.Store, log: log}
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.store.ListWebhooks(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list webhooks")
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	if hooks == nil {
		hooks = []models.Webhook{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": hooks})
}

type registerWebhookRequest struct {
	URL    string `json:"url"`
	Events string `json:"events"`
}

// Register upserts a webhook by URL; re-registering replaces its event
// filter. The filter defaults to "response".
func (h *WebhookHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, http.StatusBadRequest, "url must be a valid HTTP or HTTPS URL")
		return
	}
	if req.Events == "" {
		req.Events = "response"
	}

	wh := &models.Webhook{
		ID:        models.NewID("wh"),
		URL:       req.URL,
		Events:    req.Events,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.UpsertWebhook(r.Context(), wh); err != nil {
		h.log.Error().Err(err).Msg("failed to save webhook")
		writeError(w, http.StatusInternalServerError, "failed to save webhook")
		return
	}
	writeOK(w)
}

type removeWebhookRequest struct {
	URL string `json:"url"`
}

func (h *WebhookHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req removeWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	if err := h.store.DeleteWebhook(r.Context(), req.URL); err != nil {
		h.log.Error().Err(err).Msg("failed to delete webhook")
		writeError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}
	writeOK(w)
}
