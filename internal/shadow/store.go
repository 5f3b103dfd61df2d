// Package shadow holds the per-document server-side shadow text: the copy
// of a document's content that the sync engine most recently told all
// connected clients about, used as the base against which incoming patches
// are fuzzily applied.
package shadow

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/syncdocs/backend/internal/models"
)

// DocumentLoader is the slice of db.DB a shadow store needs to hydrate an
// entry on first touch. Accepting this instead of *db.DB lets tests back
// a Store with an in-memory fake instead of a live Postgres connection.
type DocumentLoader interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
}

// entry is one document's shadow, plus the mutex that serializes every
// engine operation touching that document (spec.md §4.B invariant: while an
// operation holds this mutex, no other operation may mutate shadow,
// content, or broadcast for the document).
type entry struct {
	mu     sync.Mutex
	shadow string
}

// Store maps a document ID to its shadow entry. The map itself is guarded
// by a short-critical-section lock distinct from each entry's own mutex, so
// that loading/creating an entry for one document never blocks an
// in-progress operation on another (spec.md §5).
type Store struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry
	db      DocumentLoader
}

// New creates an empty shadow store backed by the given persistence layer.
func New(database DocumentLoader) *Store {
	return &Store{
		entries: make(map[uuid.UUID]*entry),
		db:      database,
	}
}

// Handle is a held reference to one document's shadow and its lock. Callers
// must call Unlock exactly once.
type Handle struct {
	e *entry
}

// Lock returns a locked handle on docID's shadow entry, lazily hydrating it
// from persisted content if this is the first touch since process start or
// since a prior Drop.
func (s *Store) Lock(ctx context.Context, docID uuid.UUID) (*Handle, error) {
	e, err := s.getOrLoad(ctx, docID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	return &Handle{e: e}, nil
}

func (s *Store) getOrLoad(ctx context.Context, docID uuid.UUID) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[docID]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[docID]; ok {
		return e, nil
	}

	doc, err := s.db.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	shadowText := ""
	if doc != nil {
		shadowText = doc.Content
	}
	e = &entry{shadow: shadowText}
	s.entries[docID] = e
	return e, nil
}

// Text returns the shadow's current value. Must be called with the handle
// held.
func (h *Handle) Text() string {
	return h.e.shadow
}

// Set replaces the shadow's value. Must be called with the handle held.
func (h *Handle) Set(newShadow string) {
	h.e.shadow = newShadow
}

// Unlock releases the document's lock.
func (h *Handle) Unlock() {
	h.e.mu.Unlock()
}

// Drop evicts docID's shadow entry. Safe to call whether or not a room is
// currently open for it; correctness is unaffected because the next Lock
// rehydrates from persisted content (spec.md §9 open question).
func (s *Store) Drop(docID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, docID)
}
