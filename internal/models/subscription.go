package models

import "time"

// Subscription is one registered push endpoint plus the key material needed
// to encrypt payloads for it. One row per endpoint; re-subscribing the same
// endpoint replaces the key material.
type Subscription struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
}
