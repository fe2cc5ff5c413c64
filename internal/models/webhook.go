package models

import (
	"strings"
	"time"
)

// Webhook is an externally registered HTTP destination notified of selected
// event kinds. Events is a comma-delimited list, or "*" for all.
type Webhook struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    string    `json:"events"`
	CreatedAt time.Time `json:"created_at"`
}

// Matches reports whether the webhook's event filter covers the given event
// kind.
func (w *Webhook) Matches(event string) bool {
	for _, e := range strings.Split(w.Events, ",") {
		e = strings.TrimSpace(e)
		if e == "*" || e == event {
			return true
		}
	}
	return false
}
