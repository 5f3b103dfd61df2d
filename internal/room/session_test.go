package room

import (
	"testing"

	"github.com/google/uuid"

	"github.com/syncdocs/backend/internal/models"
)

func newTestUser() *models.User {
	return &models.User{ID: uuid.New(), Name: "Ada", Email: "ada@example.com"}
}

func TestTrySendEnqueuesWithinCapacity(t *testing.T) {
	s := NewSession(newTestUser())
	if !s.TrySend([]byte("hello")) {
		t.Fatalf("expected TrySend to succeed on an empty queue")
	}
	select {
	case msg := <-s.Send:
		if string(msg) != "hello" {
			t.Fatalf("got %q", msg)
		}
	default:
		t.Fatalf("expected a message to be queued")
	}
}

func TestTrySendFailsWhenQueueFull(t *testing.T) {
	s := NewSession(newTestUser())
	for i := 0; i < cap(s.Send); i++ {
		if !s.TrySend([]byte("x")) {
			t.Fatalf("unexpected failure filling the queue at index %d", i)
		}
	}
	if s.TrySend([]byte("overflow")) {
		t.Fatalf("expected TrySend to report failure on a full queue")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := NewSession(newTestUser())
	s.Close()
	s.Close() // must not panic on double-close
}

func TestJoinLeaveTracksMembership(t *testing.T) {
	s := NewSession(newTestUser())
	docA, docB := uuid.New(), uuid.New()

	s.Join(docA)
	s.Join(docB)

	docs := s.JoinedDocuments()
	if len(docs) != 2 {
		t.Fatalf("expected 2 joined documents, got %d", len(docs))
	}

	s.Leave(docA)
	docs = s.JoinedDocuments()
	if len(docs) != 1 || docs[0] != docB {
		t.Fatalf("expected only docB to remain joined, got %v", docs)
	}
}
