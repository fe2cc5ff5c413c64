package models

import (
	"encoding/json"
	"time"
)

type MessageKind string

const (
	KindNotification MessageKind = "notification"
	KindResponse     MessageKind = "response"
)

// ResponseTitle is the fixed title stored for response messages. Response
// titles are never user-supplied.
const ResponseTitle = "Response"

// Message is one entry in the append-only message log. Notifications carry
// an optional UI form spec; responses carry an optional structured payload
// and an optional link to the notification they answer.
type Message struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Kind      MessageKind     `json:"kind"`
	ParentID  string          `json:"parent_id,omitempty"`
	UI        json.RawMessage `json:"ui,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"sent_at"`
}
