// Package push fans notification payloads out to registered web-push
// endpoints and reconciles delivery failures against subscription state.
package push

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/dropalltables/oncall/internal/config"
	"github.com/dropalltables/oncall/internal/metrics"
	"github.com/dropalltables/oncall/internal/models"
	"github.com/dropalltables/oncall/internal/storage"
)

const maxErrorBody = 512

// SendFunc performs one encrypted push delivery. It exists so tests can
// substitute the transport; the default is webpush.SendNotificationWithContext.
type SendFunc func(ctx context.Context, message []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// Payload is the pre-encryption notification bundle. It is encrypted per
// subscriber with that subscriber's key material by the transport.
type Payload struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	URL       string `json:"url,omitempty"`
	Tag       string `json:"tag,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

type Dispatcher struct {
	store  storage.Storage
	cfg    config.PushConfig
	client *http.Client
	log    zerolog.Logger
	send   SendFunc
}

func NewDispatcher(cfg config.PushConfig, store storage.Storage, log zerolog.Logger) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		store:  store,
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log,
		send:   webpush.SendNotificationWithContext,
	}
}

// Dispatch delivers the payload to every given subscription concurrently and
// aggregates the per-endpoint outcomes. Endpoints the push service reports
// gone (404/410) are deleted from the registry and counted as both failed
// and removed. Dispatch never returns an error: partial failure is the
// expected common case.
func (d *Dispatcher) Dispatch(ctx context.Context, subs []models.Subscription, p Payload) models.DeliverySummary {
	return d.fanOut(ctx, subs, p, d.cfg.TTL)
}

// DispatchAll sends to every subscription currently in the registry.
func (d *Dispatcher) DispatchAll(ctx context.Context, p Payload) models.DeliverySummary {
	subs, err := d.store.ListSubscriptions(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to list subscriptions for dispatch")
		return models.DeliverySummary{Errors: []models.DeliveryError{}}
	}
	return d.fanOut(ctx, subs, p, d.cfg.TTL)
}

// PurgeStale probes every subscription with a zero-TTL push and removes the
// ones the push service reports gone. A subscription that accepts the probe
// is never removed.
func (d *Dispatcher) PurgeStale(ctx context.Context) (removed, remaining int, err error) {
	subs, err := d.store.ListSubscriptions(ctx)
	if err != nil {
		return 0, 0, err
	}
	summary := d.fanOut(ctx, subs, Payload{Tag: "probe"}, 0)
	remaining, err = d.store.CountSubscriptions(ctx)
	return summary.Removed, remaining, err
}

func (d *Dispatcher) fanOut(ctx context.Context, subs []models.Subscription, p Payload, ttl int) models.DeliverySummary {
	summary := models.DeliverySummary{Errors: []models.DeliveryError{}}
	if len(subs) == 0 {
		return summary
	}

	body, err := json.Marshal(p)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to encode push payload")
		return summary
	}

	var mu sync.Mutex
	var wg conc.WaitGroup
	for _, sub := range subs {
		sub := sub
		wg.Go(func() {
			out := d.attempt(ctx, sub, body, ttl)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case out.gone:
				summary.Failed++
				summary.Removed++
			case out.err != nil || !out.ok:
				summary.Failed++
				summary.Errors = append(summary.Errors, models.DeliveryError{
					Endpoint:   truncate(sub.Endpoint, 40),
					StatusCode: out.status,
					Body:       out.body,
				})
			default:
				summary.Sent++
			}
		})
	}
	wg.Wait()
	return summary
}

type outcome struct {
	ok     bool
	gone   bool
	status int
	body   string
	err    error
}

func (d *Dispatcher) attempt(ctx context.Context, sub models.Subscription, body []byte, ttl int) outcome {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}

	resp, err := d.send(ctx, body, s, &webpush.Options{
		HTTPClient:      d.client,
		Subscriber:      d.cfg.Subscriber,
		VAPIDPublicKey:  d.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: d.cfg.VAPIDPrivateKey,
		TTL:             ttl,
	})
	if err != nil {
		metrics.PushFailed.Inc()
		d.log.Warn().Err(err).Str("endpoint", truncate(sub.Endpoint, 40)).Msg("push delivery failed")
		return outcome{err: err, body: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		metrics.PushFailed.Inc()
		d.prune(ctx, sub)
		return outcome{gone: true, status: resp.StatusCode}
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		metrics.PushSent.Inc()
		return outcome{ok: true, status: resp.StatusCode}
	default:
		metrics.PushFailed.Inc()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		d.log.Warn().
			Int("status", resp.StatusCode).
			Str("endpoint", truncate(sub.Endpoint, 40)).
			Msg("push service rejected delivery")
		return outcome{status: resp.StatusCode, body: string(b)}
	}
}

func (d *Dispatcher) prune(ctx context.Context, sub models.Subscription) {
	if err := d.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
		d.log.Error().Err(err).Str("endpoint", truncate(sub.Endpoint, 40)).Msg("failed to remove gone subscription")
		return
	}
	metrics.SubscriptionsPruned.Inc()
	d.log.Info().Str("endpoint", truncate(sub.Endpoint, 40)).Msg("removed gone subscription")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
