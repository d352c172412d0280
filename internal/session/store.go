package session

import (
	"sync"
	"time"
)

// Store holds per-session message history in memory. Sessions are
// created lazily on first append and live for the process lifetime;
// history is bounded per session, the session count is not.
//
// The map itself is guarded by a coarse RWMutex so that unrelated
// sessions never contend; each session carries its own mutex so that
// appends targeting the same id are serialized and stay in
// conversation order.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	capacity int
}

type entry struct {
	mu       sync.Mutex
	messages []Message
}

// NewStore creates an empty store with the given per-session capacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		sessions: make(map[string]*entry),
		capacity: capacity,
	}
}

// History returns a copy of the session's messages in chronological
// order. An unseen id yields an empty slice and creates nothing.
func (s *Store) History(id string) []Message {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// Append adds one message to the session, creating it if needed. When
// the history exceeds capacity the oldest messages are dropped, never
// the newest.
func (s *Store) Append(id, role, content string) {
	e := s.lookupOrCreate(id)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if n := len(e.messages); n > s.capacity {
		e.messages = append(e.messages[:0], e.messages[n-s.capacity:]...)
	}
}

func (s *Store) lookupOrCreate(id string) *entry {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.sessions[id]; ok {
		return e
	}
	e = &entry{}
	s.sessions[id] = e
	return e
}

// Count reports the number of distinct sessions currently held.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Clear removes the session and reports whether it existed.
func (s *Store) Clear(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}
