package session

import "time"

// Message roles as sent on the wire to every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single chat message
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultCapacity bounds per-session history when the store is
// constructed with a non-positive capacity.
const DefaultCapacity = 20
