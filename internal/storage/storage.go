package storage

import (
	"context"

	"github.com/dropalltables/oncall/internal/models"
)

// Storage is the single source of truth for subscriptions, messages and
// webhook registrations. Every operation is a single statement; the store's
// own consistency guarantees are the only locking this system needs.
type Storage interface {
	// Subscriptions
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	ListSubscriptions(ctx context.Context) ([]models.Subscription, error)
	CountSubscriptions(ctx context.Context) (int, error)

	// Messages
	CreateMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, limit int) ([]models.Message, error)
	LatestNotification(ctx context.Context) (*models.Message, error)

	// Webhooks
	UpsertWebhook(ctx context.Context, wh *models.Webhook) error
	DeleteWebhook(ctx context.Context, url string) error
	ListWebhooks(ctx context.Context) ([]models.Webhook, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
