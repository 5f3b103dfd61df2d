// Package room implements the Room Registry and Session components: the
// mapping from document identity to its connected participants and the
// per-connection send queue that fans broadcasts out to them.
//
// Grounded on the teacher's internal/collab/manager.go (RoomManager),
// room.go (Room) and document.go (Client), generalized from a single
// CRDT room per connection to the multi-document Session spec.md §3
// requires, and from opaque binary updates to the typed envelope
// internal/ws dispatches.
package room

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syncdocs/backend/internal/models"
)

// Session is one connected, authenticated client. Unlike the teacher's
// Client (bound to exactly one room for its lifetime), a Session may be
// joined to several documents at once.
type Session struct {
	ID        string
	UserID    uuid.UUID
	User      *models.User
	Send      chan []byte
	mu        sync.Mutex
	joined    map[uuid.UUID]bool
	lastSeen  time.Time
	closeOnce sync.Once
}

// NewSession creates a new session for an authenticated user.
func NewSession(user *models.User) *Session {
	return &Session{
		ID:       uuid.New().String(),
		UserID:   user.ID,
		User:     user,
		Send:     make(chan []byte, 256),
		joined:   make(map[uuid.UUID]bool),
		lastSeen: time.Now(),
	}
}

// TrySend enqueues data on the session's outbound sink without blocking.
// A full queue marks the session slow; the caller is responsible for
// closing it (spec.md §5's try-send-with-disconnect-on-full policy).
func (s *Session) TrySend(data []byte) (ok bool) {
	select {
	case s.Send <- data:
		return true
	default:
		return false
	}
}

// Close closes the outbound sink, unblocking the writer pump. Safe to call
// more than once (a slow-peer disconnect and the session's own read-pump
// teardown can both reach it for the same session).
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.Send)
	})
}

// Join records that the session has joined docID.
func (s *Session) Join(docID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined[docID] = true
	s.lastSeen = time.Now()
}

// Leave records that the session has left docID.
func (s *Session) Leave(docID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joined, docID)
}

// JoinedDocuments returns every document the session currently belongs to,
// used on disconnect to tear down each membership (spec.md §4.D).
func (s *Session) JoinedDocuments() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := make([]uuid.UUID, 0, len(s.joined))
	for id := range s.joined {
		docs = append(docs, id)
	}
	return docs
}

// Touch refreshes the session's last-active timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()
}
