package push

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"github.com/dropalltables/oncall/internal/config"
	"github.com/dropalltables/oncall/internal/models"
	"github.com/dropalltables/oncall/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	s, err := storage.NewSQLite(filepath.Join(t.TempDir(), "oncall.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func newTestDispatcher(t *testing.T, store storage.Storage, send SendFunc) *Dispatcher {
	t.Helper()
	d := NewDispatcher(config.PushConfig{Subscriber: "test@example.com", TTL: 30}, store, zerolog.Nop())
	d.send = send
	return d
}

func addSubscription(t *testing.T, store storage.Storage, endpoint string) models.Subscription {
	t.Helper()
	sub := models.Subscription{
		ID:        models.NewID("sub"),
		Endpoint:  endpoint,
		P256dh:    "p256dh",
		Auth:      "auth",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.UpsertSubscription(context.Background(), &sub); err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}
	return sub
}

func respondWith(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestDispatchClassification(t *testing.T) {
	store := newTestStore(t)
	addSubscription(t, store, "https://push.example.com/ok")
	addSubscription(t, store, "https://push.example.com/gone")
	addSubscription(t, store, "https://push.example.com/flaky")

	send := func(ctx context.Context, message []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
		switch {
		case strings.HasSuffix(sub.Endpoint, "/ok"):
			return respondWith(http.StatusCreated, ""), nil
		case strings.HasSuffix(sub.Endpoint, "/gone"):
			return respondWith(http.StatusGone, ""), nil
		default:
			return respondWith(http.StatusTooManyRequests, "rate limited"), nil
		}
	}

	d := newTestDispatcher(t, store, send)
	subs, _ := store.ListSubscriptions(context.Background())
	summary := d.Dispatch(context.Background(), subs, Payload{Title: "t", Body: "b"})

	if summary.Sent != 1 {
		t.Fatalf("expected 1 sent, got %d", summary.Sent)
	}
	if summary.Failed != 2 {
		t.Fatalf("expected 2 failed, got %d", summary.Failed)
	}
	if summary.Removed != 1 {
		t.Fatalf("expected 1 removed, got %d", summary.Removed)
	}
	if len(summary.Errors) != 1 {
		t.Fatalf("expected exactly the non-gone failure in the error list, got %d", len(summary.Errors))
	}
	if summary.Errors[0].StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected error entry: %+v", summary.Errors[0])
	}

	remaining, _ := store.CountSubscriptions(context.Background())
	if remaining != 2 {
		t.Fatalf("expected only the gone endpoint to be pruned, %d remain", remaining)
	}
	for _, sub := range mustList(t, store) {
		if strings.HasSuffix(sub.Endpoint, "/gone") {
			t.Fatalf("gone endpoint still registered")
		}
	}
}

func TestDispatchTransportErrorKeepsSubscription(t *testing.T) {
	store := newTestStore(t)
	addSubscription(t, store, "https://push.example.com/unreachable")

	send := func(ctx context.Context, message []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
		return nil, context.DeadlineExceeded
	}

	d := newTestDispatcher(t, store, send)
	summary := d.DispatchAll(context.Background(), Payload{Title: "t", Body: "b"})

	if summary.Failed != 1 || summary.Removed != 0 || summary.Sent != 0 {
		t.Fatalf("transient failure must not prune: %+v", summary)
	}
	if len(summary.Errors) != 1 || summary.Errors[0].StatusCode != 0 {
		t.Fatalf("expected one transport error entry, got %+v", summary.Errors)
	}
	if n, _ := store.CountSubscriptions(context.Background()); n != 1 {
		t.Fatalf("subscription was removed on a transient outage")
	}
}

func TestDispatchEmptyRegistry(t *testing.T) {
	store := newTestStore(t)
	d := newTestDispatcher(t, store, func(ctx context.Context, message []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
		t.Fatal("send must not be called with zero subscriptions")
		return nil, nil
	})

	summary := d.DispatchAll(context.Background(), Payload{Title: "Deploy", Body: "Ready"})
	if summary.Sent != 0 || summary.Failed != 0 || summary.Removed != 0 {
		t.Fatalf("expected zero summary, got %+v", summary)
	}
	if summary.Errors == nil || len(summary.Errors) != 0 {
		t.Fatalf("expected empty non-nil error list, got %#v", summary.Errors)
	}
}

func TestDispatchIsolatesEndpointFailures(t *testing.T) {
	store := newTestStore(t)
	const n = 8
	for i := 0; i < n; i++ {
		addSubscription(t, store, "https://push.example.com/ep"+string(rune('a'+i)))
	}

	var calls atomic.Int32
	send := func(ctx context.Context, message []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
		calls.Add(1)
		if strings.HasSuffix(sub.Endpoint, "/epa") {
			return nil, context.DeadlineExceeded
		}
		return respondWith(http.StatusCreated, ""), nil
	}

	d := newTestDispatcher(t, store, send)
	summary := d.DispatchAll(context.Background(), Payload{Title: "t", Body: "b"})

	if got := calls.Load(); got != n {
		t.Fatalf("expected every endpoint to be attempted, got %d of %d", got, n)
	}
	if summary.Sent != n-1 || summary.Failed != 1 {
		t.Fatalf("one failure must not affect the others: %+v", summary)
	}
}

func TestPurgeStaleNeverRemovesLiveEndpoints(t *testing.T) {
	store := newTestStore(t)
	addSubscription(t, store, "https://push.example.com/live")
	addSubscription(t, store, "https://push.example.com/dead")

	var probeTTL atomic.Int32
	probeTTL.Store(-1)
	send := func(ctx context.Context, message []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
		probeTTL.Store(int32(opts.TTL))
		if strings.HasSuffix(sub.Endpoint, "/dead") {
			return respondWith(http.StatusNotFound, ""), nil
		}
		return respondWith(http.StatusCreated, ""), nil
	}

	d := newTestDispatcher(t, store, send)
	removed, remaining, err := d.PurgeStale(context.Background())
	if err != nil {
		t.Fatalf("PurgeStale: %v", err)
	}
	if removed != 1 || remaining != 1 {
		t.Fatalf("expected removed=1 remaining=1, got removed=%d remaining=%d", removed, remaining)
	}
	if probeTTL.Load() != 0 {
		t.Fatalf("probe must use TTL 0, got %d", probeTTL.Load())
	}

	subs := mustList(t, store)
	if len(subs) != 1 || !strings.HasSuffix(subs[0].Endpoint, "/live") {
		t.Fatalf("live endpoint must survive the purge, got %+v", subs)
	}
}

func mustList(t *testing.T, store storage.Storage) []models.Subscription {
	t.Helper()
	subs, err := store.ListSubscriptions(context.Background())
	if err != nil {
		t.Fatalf("ListSubscriptions: %v", err)
	}
	return subs
}
