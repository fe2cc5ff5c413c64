package events

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dropalltables/oncall/internal/config"
	"github.com/dropalltables/oncall/internal/metrics"
	"github.com/dropalltables/oncall/internal/storage"
)

// WebhookNotifier delivers events to registered webhook URLs whose filter
// matches the event kind. Delivery is fire-and-forget: failures are logged,
// never retried, and never surfaced to the operation that raised the event.
type WebhookNotifier struct {
	store   storage.Storage
	client  *http.Client
	timeout time.Duration
	log     zerolog.Logger
}

func NewWebhookNotifier(cfg config.WebhookConfig, store storage.Storage, log zerolog.Logger) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		store:   store,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     log,
	}
}

// Notify fires the event to all matching webhooks asynchronously and returns
// immediately. The triggering request never waits on webhook delivery.
func (n *WebhookNotifier) Notify(e Event) {
	go n.deliverAll(e)
}

func (n *WebhookNotifier) deliverAll(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	hooks, err := n.store.ListWebhooks(ctx)
	if err != nil {
		n.log.Error().Err(err).Msg("failed to list webhooks")
		return
	}

	body := make(map[string]interface{}, len(e.Fields)+1)
	for k, v := range e.Fields {
		body[k] = v
	}
	body["event"] = e.Kind
	payload, err := json.Marshal(body)
	if err != nil {
		n.log.Error().Err(err).Str("event", e.Kind).Msg("failed to encode webhook payload")
		return
	}

	for _, wh := range hooks {
		if !wh.Matches(e.Kind) {
			continue
		}
		n.deliver(ctx, wh.URL, payload, e.Kind)
	}
}

func (n *WebhookNotifier) deliver(ctx context.Context, url string, payload []byte, kind string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		metrics.WebhooksDelivered.WithLabelValues("error").Inc()
		n.log.Warn().Err(err).Str("url", url).Msg("failed to build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "oncall/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		metrics.WebhooksDelivered.WithLabelValues("error").Inc()
		n.log.Warn().Err(err).Str("url", url).Str("event", kind).Msg("webhook delivery failed")
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		metrics.WebhooksDelivered.WithLabelValues("rejected").Inc()
		n.log.Warn().Int("status", resp.StatusCode).Str("url", url).Str("event", kind).Msg("webhook rejected delivery")
		return
	}
	metrics.WebhooksDelivered.WithLabelValues("ok").Inc()
}
