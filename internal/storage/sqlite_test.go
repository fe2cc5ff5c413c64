package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/dropalltables/oncall/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "oncall.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestSubscriptionUpsertReplacesKeyMaterial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &models.Subscription{
		ID:        models.NewID("sub"),
		Endpoint:  "https://push.example.com/ep1",
		P256dh:    "old-p256dh",
		Auth:      "old-auth",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.UpsertSubscription(ctx, first); err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}

	second := &models.Subscription{
		ID:        models.NewID("sub"),
		Endpoint:  "https://push.example.com/ep1",
		P256dh:    "new-p256dh",
		Auth:      "new-auth",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.UpsertSubscription(ctx, second); err != nil {
		t.Fatalf("UpsertSubscription (again): %v", err)
	}

	n, err := s.CountSubscriptions(ctx)
	if err != nil {
		t.Fatalf("CountSubscriptions: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one record per endpoint, got %d", n)
	}

	subs, err := s.ListSubscriptions(ctx)
	if err != nil {
		t.Fatalf("ListSubscriptions: %v", err)
	}
	if subs[0].P256dh != "new-p256dh" || subs[0].Auth != "new-auth" {
		t.Fatalf("expected newest key material to win, got %+v", subs[0])
	}
}

func TestDeleteSubscriptionIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.DeleteSubscription(ctx, "https://push.example.com/never-registered"); err != nil {
		t.Fatalf("deleting an absent endpoint should succeed, got %v", err)
	}

	sub := &models.Subscription{
		ID:        models.NewID("sub"),
		Endpoint:  "https://push.example.com/ep1",
		P256dh:    "k",
		Auth:      "a",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.UpsertSubscription(ctx, sub); err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}
	if err := s.DeleteSubscription(ctx, "https://push.example.com/other"); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}
	if n, _ := s.CountSubscriptions(ctx); n != 1 {
		t.Fatalf("count changed after deleting an absent endpoint: %d", n)
	}
}

func TestListMessagesNewestFirstAndBounded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		msg := &models.Message{
			ID:        models.NewID("msg"),
			Title:     "t",
			Body:      "b",
			Kind:      models.KindNotification,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}

	msgs, err := s.ListMessages(ctx, 3)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected limit to bound the result, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.After(msgs[i-1].CreatedAt) {
			t.Fatalf("expected newest-first ordering")
		}
	}
}

func TestLatestNotificationIgnoresResponses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	latest, err := s.LatestNotification(ctx)
	if err != nil {
		t.Fatalf("LatestNotification: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected nil on an empty log, got %+v", latest)
	}

	notif := &models.Message{
		ID:        models.NewID("msg"),
		Title:     "Deploy",
		Body:      "Ready",
		Kind:      models.KindNotification,
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	if err := s.CreateMessage(ctx, notif); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	resp := &models.Message{
		ID:        models.NewID("rsp"),
		Title:     models.ResponseTitle,
		Body:      "approved",
		Kind:      models.KindResponse,
		ParentID:  notif.ID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateMessage(ctx, resp); err != nil {
		t.Fatalf("CreateMessage (response): %v", err)
	}

	latest, err = s.LatestNotification(ctx)
	if err != nil {
		t.Fatalf("LatestNotification: %v", err)
	}
	if latest == nil || latest.ID != notif.ID {
		t.Fatalf("expected the notification despite a newer response, got %+v", latest)
	}
}

func TestMessageRoundTripsStructuredFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ui := json.RawMessage(`{"fields":[{"name":"approve","type":"boolean"}]}`)
	msg := &models.Message{
		ID:        models.NewID("msg"),
		Title:     "Deploy",
		Body:      "Ready",
		Kind:      models.KindNotification,
		UI:        ui,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	msgs, err := s.ListMessages(ctx, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	if string(msgs[0].UI) != string(ui) {
		t.Fatalf("UI spec did not round-trip: %s", msgs[0].UI)
	}
	if msgs[0].Data != nil {
		t.Fatalf("expected absent data to stay nil, got %s", msgs[0].Data)
	}
}

func TestCreateResponseRejectsUnknownParent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	resp := &models.Message{
		ID:        models.NewID("rsp"),
		Title:     models.ResponseTitle,
		Body:      "orphan",
		Kind:      models.KindResponse,
		ParentID:  "msg_does_not_exist",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateMessage(ctx, resp); err == nil {
		t.Fatalf("expected foreign key violation for unknown parent")
	}
}

func TestWebhookUpsertReplacesFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wh := &models.Webhook{
		ID:        models.NewID("wh"),
		URL:       "https://hooks.example.com/a",
		Events:    "response",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.UpsertWebhook(ctx, wh); err != nil {
		t.Fatalf("UpsertWebhook: %v", err)
	}

	wh2 := &models.Webhook{
		ID:        models.NewID("wh"),
		URL:       "https://hooks.example.com/a",
		Events:    "*",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.UpsertWebhook(ctx, wh2); err != nil {
		t.Fatalf("UpsertWebhook (again): %v", err)
	}

	hooks, err := s.ListWebhooks(ctx)
	if err != nil {
		t.Fatalf("ListWebhooks: %v", err)
	}
	if len(hooks) != 1 {
		t.Fatalf("expected one record per URL, got %d", len(hooks))
	}
	if hooks[0].Events != "*" {
		t.Fatalf("expected re-registration to replace the filter, got %q", hooks[0].Events)
	}

	if err := s.DeleteWebhook(ctx, wh.URL); err != nil {
		t.Fatalf("DeleteWebhook: %v", err)
	}
	hooks, _ = s.ListWebhooks(ctx)
	if len(hooks) != 0 {
		t.Fatalf("expected webhook to be removed, got %d", len(hooks))
	}
}
