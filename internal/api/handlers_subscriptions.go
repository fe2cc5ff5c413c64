package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dropalltables/oncall/internal/events"
	"github.com/dropalltables/oncall/internal/models"
	"github.com/dropalltables/oncall/internal/push"
	"github.com/dropalltables/oncall/internal/storage"
)

type SubscriptionHandler struct {
	store          storage.Storage
	dispatcher     *push.Dispatcher
	hub            *events.Hub
	vapidPublicKey string
	log            zerolog.Logger
}

func NewSubscriptionHandler(deps Deps, log zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		store:          deps.Store,
		dispatcher:     deps.Dispatcher,
		hub:            deps.Hub,
		vapidPublicKey: deps.VAPIDPublicKey,
		log:            log,
	}
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Subscribe upserts a push endpoint. Re-subscribing an endpoint replaces its
// key material; the registry holds exactly one record per endpoint.
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint and keys are required")
		return
	}

	sub := &models.Subscription{
		ID:        models.NewID("sub"),
		Endpoint:  req.Endpoint,
		P256dh:    req.Keys.P256dh,
		Auth:      req.Keys.Auth,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.UpsertSubscription(r.Context(), sub); err != nil {
		h.log.Error().Err(err).Msg("failed to save subscription")
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}

	h.broadcastCount(r.Context())
	writeOK(w)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Unsubscribe removes an endpoint. Removing an absent endpoint succeeds and
// leaves the count unchanged.
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}

	if err := h.store.DeleteSubscription(r.Context(), req.Endpoint); err != nil {
		h.log.Error().Err(err).Msg("failed to delete subscription")
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}

	h.broadcastCount(r.Context())
	writeOK(w)
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.ListSubscriptions(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list subscriptions")
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []models.Subscription{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// Purge probes every subscription and drops the ones whose endpoints are
// gone. This is the explicit health-check path; normal notify prunes the
// same way as a side effect.
func (h *SubscriptionHandler) Purge(w http.ResponseWriter, r *http.Request) {
	removed, remaining, err := h.dispatcher.PurgeStale(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to purge subscriptions")
		writeError(w, http.StatusInternalServerError, "failed to purge subscriptions")
		return
	}

	if removed > 0 {
		h.broadcastCount(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"removed":   removed,
		"remaining": remaining,
	})
}

func (h *SubscriptionHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": h.vapidPublicKey})
}

func (h *SubscriptionHandler) broadcastCount(ctx context.Context) {
	n, err := h.store.CountSubscriptions(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to count subscriptions")
		return
	}
	h.hub.Broadcast(events.Event{
		Kind:   "subscription",
		Fields: map[string]interface{}{"count": n},
	})
}
