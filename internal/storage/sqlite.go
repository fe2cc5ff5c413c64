package storage

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dropalltables/oncall/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			endpoint TEXT NOT NULL UNIQUE,
			p256dh TEXT NOT NULL,
			auth TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('notification', 'response')),
			parent_id TEXT REFERENCES messages(id),
			ui TEXT,
			data TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS webhooks (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL UNIQUE,
			events TEXT NOT NULL DEFAULT 'response',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_kind_created ON messages(kind, created_at)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Subscriptions ---

func (s *SQLiteStorage) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, endpoint, p256dh, auth, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET p256dh = excluded.p256dh, auth = excluded.auth, created_at = excluded.created_at`,
		sub.ID, sub.Endpoint, sub.P256dh, sub.Auth, sub.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) DeleteSubscription(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE endpoint = ?`, endpoint)
	return err
}

func (s *SQLiteStorage) ListSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, endpoint, p256dh, auth, created_at FROM subscriptions ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.ID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteStorage) CountSubscriptions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions`).Scan(&n)
	return n, err
}

// --- Messages ---

func (s *SQLiteStorage) CreateMessage(ctx context.Context, msg *models.Message) error {
	parent := sql.NullString{String: msg.ParentID, Valid: msg.ParentID != ""}
	ui := sql.NullString{String: string(msg.UI), Valid: len(msg.UI) > 0}
	data := sql.NullString{String: string(msg.Data), Valid: len(msg.Data) > 0}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, title, body, kind, parent_id, ui, data, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Title, msg.Body, msg.Kind, parent, ui, data, msg.CreatedAt,
	)
	return err
}

func scanMessage(row interface{ Scan(...interface{}) error }) (*models.Message, error) {
	var msg models.Message
	var parent, ui, data sql.NullString
	if err := row.Scan(&msg.ID, &msg.Title, &msg.Body, &msg.Kind, &parent, &ui, &data, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.ParentID = parent.String
	if ui.Valid {
		msg.UI = json.RawMessage(ui.String)
	}
	if data.Valid {
		msg.Data = json.RawMessage(data.String)
	}
	return &msg, nil
}

func (s *SQLiteStorage) ListMessages(ctx context.Context, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, body, kind, parent_id, ui, data, created_at FROM messages ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

// LatestNotification returns the most recently recorded notification, or nil
// when the log holds none. Ties on created_at break by insertion order.
func (s *SQLiteStorage) LatestNotification(ctx context.Context) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, body, kind, parent_id, ui, data, created_at FROM messages
		 WHERE kind = 'notification' ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

// --- Webhooks ---

func (s *SQLiteStorage) UpsertWebhook(ctx context.Context, wh *models.Webhook) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhooks (id, url, events, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET events = excluded.events`,
		wh.ID, wh.URL, wh.Events, wh.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) DeleteWebhook(ctx context.Context, url string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE url = ?`, url)
	return err
}

func (s *SQLiteStorage) ListWebhooks(ctx context.Context) ([]models.Webhook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, events, created_at FROM webhooks ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hooks []models.Webhook
	for rows.Next() {
		var wh models.Webhook
		if err := rows.Scan(&wh.ID, &wh.URL, &wh.Events, &wh.CreatedAt); err != nil {
			return nil, err
		}
		hooks = append(hooks, wh)
	}
	return hooks, rows.Err()
}
