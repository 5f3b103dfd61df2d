package version

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/syncdocs/backend/internal/models"
	"github.com/syncdocs/backend/internal/redisbus"
	"github.com/syncdocs/backend/internal/shadow"
)

// fakeStore is an in-memory stand-in for db.DB, holding just enough state
// for Revert to exercise its full algorithm without a live Postgres
// connection.
type fakeStore struct {
	mu       sync.Mutex
	docID    uuid.UUID
	content  string
	versions []models.Version
	allowed  map[uuid.UUID]bool
}

func newFakeStore(docID uuid.UUID, versions []models.Version, editors ...uuid.UUID) *fakeStore {
	allowed := make(map[uuid.UUID]bool, len(editors))
	for _, id := range editors {
		allowed[id] = true
	}
	content := ""
	if len(versions) > 0 {
		content = versions[len(versions)-1].Content
	}
	return &fakeStore{docID: docID, content: content, versions: versions, allowed: allowed}
}

func (f *fakeStore) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.docID {
		return nil, nil
	}
	return &models.Document{ID: f.docID, Content: f.content}, nil
}

func (f *fakeStore) GetPermission(ctx context.Context, docID, userID uuid.UUID) (*models.DocumentPermission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if docID != f.docID || !f.allowed[userID] {
		return nil, nil
	}
	return &models.DocumentPermission{DocID: docID, UserID: userID, Role: models.RoleEdit}, nil
}

func (f *fakeStore) GetVersions(ctx context.Context, docID uuid.UUID) ([]models.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Version, len(f.versions))
	copy(out, f.versions)
	return out, nil
}

func (f *fakeStore) AppendVersion(ctx context.Context, docID uuid.UUID, v models.Version) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions = append(f.versions, v)
	return len(f.versions) - 1, nil
}

func (f *fakeStore) SaveDocumentHead(ctx context.Context, id uuid.UUID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content = content
	return nil
}

func (f *fakeStore) lastVersion() models.Version {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.versions[len(f.versions)-1]
}

// fakePublisher captures every envelope Revert publishes, in place of a
// live Redis connection.
type fakePublisher struct {
	mu        sync.Mutex
	published []*redisbus.Message
}

func (p *fakePublisher) Publish(channel string, msg *redisbus.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, msg)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

// TestRevertDescriptionIsOneIndexed drives Revert end-to-end against an
// in-memory fake and checks the appended version's change description
// against the real format string Revert uses (version.go), rather than
// comparing two copies of the same literal to each other.
func TestRevertDescriptionIsOneIndexed(t *testing.T) {
	docID := uuid.New()
	owner := uuid.New()
	versions := []models.Version{
		{Content: "v0", AuthorID: owner, Timestamp: time.Now()},
		{Content: "v1", AuthorID: owner, Timestamp: time.Now()},
		{Content: "v2", AuthorID: owner, Timestamp: time.Now()},
	}
	store := newFakeStore(docID, versions, owner)
	sn := New(store, shadow.New(store), &fakePublisher{}, "test-instance")

	const revertIndex = 1
	doc, err := sn.Revert(context.Background(), owner, "Ada", docID, revertIndex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Content != "v1" {
		t.Fatalf("got content %q, want %q", doc.Content, "v1")
	}

	got := store.lastVersion().ChangeDescription
	want := fmt.Sprintf("Reverted to version %d", revertIndex+1)
	if got != want {
		t.Fatalf("got description %q, want %q", got, want)
	}
}

func TestRevertRejectsOutOfRangeIndex(t *testing.T) {
	docID := uuid.New()
	owner := uuid.New()
	store := newFakeStore(docID, []models.Version{{Content: "v0", AuthorID: owner}}, owner)
	sn := New(store, shadow.New(store), &fakePublisher{}, "test-instance")

	if _, err := sn.Revert(context.Background(), owner, "Ada", docID, 5); err != ErrInvalidIndex {
		t.Fatalf("got %v, want ErrInvalidIndex", err)
	}
}

func TestRevertRejectsNonEditor(t *testing.T) {
	docID := uuid.New()
	owner := uuid.New()
	outsider := uuid.New()
	store := newFakeStore(docID, []models.Version{{Content: "v0", AuthorID: owner}}, owner)
	sn := New(store, shadow.New(store), &fakePublisher{}, "test-instance")

	if _, err := sn.Revert(context.Background(), outsider, "Eve", docID, 0); err != ErrForbidden {
		t.Fatalf("got %v, want ErrForbidden", err)
	}
}

func TestRevertPublishesDocumentUpdateAndVersionCreated(t *testing.T) {
	docID := uuid.New()
	owner := uuid.New()
	store := newFakeStore(docID, []models.Version{
		{Content: "v0", AuthorID: owner},
		{Content: "v1", AuthorID: owner},
	}, owner)
	pub := &fakePublisher{}
	sn := New(store, shadow.New(store), pub, "test-instance")

	if _, err := sn.Revert(context.Background(), owner, "Ada", docID, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pub.count() != 2 {
		t.Fatalf("expected 2 published envelopes (document-updated, version-created), got %d", pub.count())
	}
}

func TestErrorSentinelsAreDistinct(t *testing.T) {
	if ErrForbidden == ErrInvalidIndex {
		t.Fatalf("expected distinct error sentinels")
	}
	if ErrForbidden.Error() == "" || ErrInvalidIndex.Error() == "" {
		t.Fatalf("expected non-empty error messages")
	}
}
