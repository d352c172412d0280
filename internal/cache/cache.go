package cache

import (
	"crypto/sha256"
	"fmt"
	"time"

	"SafeChat/internal/session"
)

// CachedReply represents a cached backend reply
type CachedReply struct {
	Reply     string
	Timestamp time.Time
}

// Key hashes a full dispatch chain. Two turns produce the same key
// only when the system prompt, the history and the new user message
// all match.
func Key(chain []session.Message) string {
	h := sha256.New()
	for _, msg := range chain {
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		h.Write([]byte(msg.Content))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
