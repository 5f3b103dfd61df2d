package syncengine

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/syncdocs/backend/internal/diffsync"
	"github.com/syncdocs/backend/internal/models"
	"github.com/syncdocs/backend/internal/room"
	"github.com/syncdocs/backend/internal/shadow"
)

// fakeStore is an in-memory stand-in for db.DB, holding just enough state
// for ApplyChange to exercise its full ten-step algorithm without a live
// Postgres connection. It is deliberately its own mutex-guarded map rather
// than delegating to shadow/engine locking, so a race in ApplyChange's own
// serialization would show up as corruption here rather than being masked
// by the fake's own locking.
type fakeStore struct {
	mu       sync.Mutex
	docID    uuid.UUID
	content  string
	ownerID  uuid.UUID
	allowed  map[uuid.UUID]bool
	versions []models.Version
}

func newFakeStore(docID, ownerID uuid.UUID, content string) *fakeStore {
	return &fakeStore{
		docID:   docID,
		content: content,
		ownerID: ownerID,
		allowed: map[uuid.UUID]bool{ownerID: true},
	}
}

func (f *fakeStore) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.docID {
		return nil, nil
	}
	return &models.Document{ID: f.docID, Content: f.content, OwnerID: f.ownerID}, nil
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

func (f *fakeStore) Content() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content
}

func newTestUser() *models.User {
	return &models.User{ID: uuid.New(), Name: "Ada"}
}

func TestShouldSnapshotWhenEmpty(t *testing.T) {
	if !shouldSnapshot(nil) {
		t.Fatalf("expected empty version history to always snapshot")
	}
}

func TestApplyDecidesSyncRequiredOnUnlocatablePatch(t *testing.T) {
	patch := diffsync.MakePatch("one two", "one two three")
	_, results := diffsync.Apply(patch, "completely different text")
	if diffsync.AllApplied(results) {
		t.Fatalf("expected patch to fail against unrelated base, S3 depends on this")
	}
}

func TestPatchDecodeRejectsGarbage(t *testing.T) {
	if _, err := diffsync.Decode("not a patch"); err == nil {
		t.Fatalf("expected decode of garbage input to fail")
	}
}

func TestNewErrorRoundTrip(t *testing.T) {
	e := newError(Forbidden, "no access")
	if e.Kind != Forbidden {
		t.Fatalf("got kind %v, want %v", e.Kind, Forbidden)
	}
	if e.Error() == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestSessionUUIDNotNil(t *testing.T) {
	// Sanity check that uuid generation used across the package behaves,
	// guarding against accidental nil-UUID document lookups.
	if uuid.New() == uuid.Nil {
		t.Fatalf("expected non-nil UUID")
	}
}

// TestApplyChangeNotFound covers S-style lookup failure (step 1): an
// unknown document id returns a NotFound engine error.
func TestApplyChangeNotFound(t *testing.T) {
	user := newTestUser()
	store := newFakeStore(uuid.New(), user.ID, "hello")
	engine := New(store, shadow.New(store), room.NewRegistry(context.Background(), nil))
	sess := room.NewSession(user)

	_, engErr := engine.ApplyChange(context.Background(), sess, uuid.New(), diffsync.Encode(diffsync.MakePatch("a", "b")))
	if engErr == nil || engErr.Kind != NotFound {
		t.Fatalf("expected NotFound, got %+v", engErr)
	}
}

// TestApplyChangeForbidden covers the authorization check (step 2): a user
// with no permission row is rejected before any patch is applied.
func TestApplyChangeForbidden(t *testing.T) {
	docID := uuid.New()
	owner := newTestUser()
	store := newFakeStore(docID, owner.ID, "hello")
	engine := New(store, shadow.New(store), room.NewRegistry(context.Background(), nil))

	outsider := room.NewSession(newTestUser())
	_, engErr := engine.ApplyChange(context.Background(), outsider, docID, diffsync.Encode(diffsync.MakePatch("hello", "hello!")))
	if engErr == nil || engErr.Kind != Forbidden {
		t.Fatalf("expected Forbidden, got %+v", engErr)
	}
}

// TestApplyChangeSyncRequiredUsesLockedShadow covers the step-6 fix: a
// patch that can't locate its context against the current shadow returns
// SyncRequired with the shadow's current content, not a stale snapshot
// read before the document lock was acquired.
func TestApplyChangeSyncRequiredUsesLockedShadow(t *testing.T) {
	docID := uuid.New()
	owner := newTestUser()
	store := newFakeStore(docID, owner.ID, "hello world")
	engine := New(store, shadow.New(store), room.NewRegistry(context.Background(), nil))
	sess := room.NewSession(owner)

	unlocatable := diffsync.Encode(diffsync.MakePatch("totally unrelated base", "totally unrelated base changed"))
	result, engErr := engine.ApplyChange(context.Background(), sess, docID, unlocatable)
	if engErr != nil {
		t.Fatalf("unexpected error: %v", engErr)
	}
	if !result.SyncRequired {
		t.Fatalf("expected SyncRequired")
	}
	if result.Content != "hello world" {
		t.Fatalf("got content %q, want the current shadow content %q", result.Content, "hello world")
	}
}

// TestApplyChangeSerializesConcurrentEdits races two goroutines applying
// different patches to the same document concurrently, as SPEC_FULL's
// testable-properties section calls for (invariant: Serialization). Both
// edits start from the same base text and race through steps 1-2
// unserialized, but the per-document shadow mutex (step 3) must still
// make their shadow mutations atomic: the final content reflects both
// edits, never a corrupted interleaving, regardless of goroutine order.
func TestApplyChangeSerializesConcurrentEdits(t *testing.T) {
	docID := uuid.New()
	owner := newTestUser()
	base := "hello world"
	store := newFakeStore(docID, owner.ID, base)
	engine := New(store, shadow.New(store), room.NewRegistry(context.Background(), nil))
	sess := room.NewSession(owner)

	patchA := diffsync.Encode(diffsync.MakePatch(base, "hello there world"))
	patchB := diffsync.Encode(diffsync.MakePatch(base, "hello world today"))

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	errs := make([]*Error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], errs[0] = engine.ApplyChange(context.Background(), sess, docID, patchA)
	}()
	go func() {
		defer wg.Done()
		results[1], errs[1] = engine.ApplyChange(context.Background(), sess, docID, patchB)
	}()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: unexpected error: %v", i, err)
		}
	}

	final := store.Content()
	if !strings.Contains(final, "there") || !strings.Contains(final, "today") {
		t.Fatalf("expected both concurrent edits to converge into the final content, got %q", final)
	}
}
