// Package offline implements the Offline Buffer (spec.md §4.G): a
// server-side per-(user,document) FIFO of patch bundles accumulated while
// a client was disconnected, plus the sync-offline-edits replay handler.
//
// The teacher has no equivalent component — it relies on y-websocket's own
// offline-capable client library — so this is grounded instead on
// redisbus's sorted-set operations (new wiring of go-redis, kept from the
// teacher's go.mod) for FIFO-by-timestamp storage, and on the teacher's
// Room.ApplyUpdate lock discipline for the replay's critical section.
package offline

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/syncdocs/backend/internal/db"
	"github.com/syncdocs/backend/internal/diffsync"
	"github.com/syncdocs/backend/internal/logger"
	"github.com/syncdocs/backend/internal/models"
	"github.com/syncdocs/backend/internal/redisbus"
	"github.com/syncdocs/backend/internal/room"
	"github.com/syncdocs/backend/internal/shadow"
)

// Buffer pushes and drains per-(user,document) offline edit queues, and
// replays them against a document's shadow on reconnection.
type Buffer struct {
	bus      *redisbus.Bus
	db       *db.DB
	shadows  *shadow.Store
	registry *room.Registry
}

// New creates an offline buffer backed by the given Redis bus and wired
// to the sync engine's persistence, shadow store and room registry so it
// can perform its own replay critical section.
func New(bus *redisbus.Bus, database *db.DB, shadows *shadow.Store, registry *room.Registry) *Buffer {
	return &Buffer{bus: bus, db: database, shadows: shadows, registry: registry}
}

// Push appends a buffered edit to a user's per-document queue, scored by
// its client timestamp so Drain/Replay observe it in submission order.
func (b *Buffer) Push(ctx context.Context, docID, userID uuid.UUID, username, patches string, clientTimestamp int64) error {
	edit := models.OfflineEdit{
		Bundle:          models.PatchBundle{Encoded: patches},
		ClientTimestamp: clientTimestamp,
		UserID:          userID.String(),
		Username:        username,
	}
	data, err := json.Marshal(edit)
	if err != nil {
		return err
	}
	return b.bus.PushOfflineEdit(ctx, docID.String(), userID.String(), float64(clientTimestamp), data)
}

// Count returns how many edits are currently buffered for (docID, userID).
func (b *Buffer) Count(ctx context.Context, docID, userID uuid.UUID) (int, error) {
	return b.bus.CountOfflineEdits(ctx, docID.String(), userID.String())
}

// HasBuffered reports whether any edits are buffered for (docID, userID).
func (b *Buffer) HasBuffered(ctx context.Context, docID, userID uuid.UUID) (bool, error) {
	return b.bus.HasOfflineEdits(ctx, docID.String(), userID.String())
}

// drain returns every buffered edit for (docID, userID), sorted ascending
// by client timestamp (invariant 6 / testable property "offline replay
// order"), and clears the queue.
func (b *Buffer) drain(ctx context.Context, docID, userID uuid.UUID) ([]models.OfflineEdit, error) {
	raw, err := b.bus.DrainOfflineEdits(ctx, docID.String(), userID.String())
	if err != nil {
		return nil, err
	}

	edits := make([]models.OfflineEdit, 0, len(raw))
	for _, r := range raw {
		var e models.OfflineEdit
		if err := json.Unmarshal(r, &e); err != nil {
			continue
		}
		edits = append(edits, e)
	}

	sortEditsByTimestamp(edits)
	return edits, nil
}

// sortEditsByTimestamp orders edits ascending by client timestamp in
// place, the FIFO ordering invariant 6 / testable property "offline
// replay order" requires. Kept separate from drain so it can be exercised
// without a Redis connection.
func sortEditsByTimestamp(edits []models.OfflineEdit) {
	sort.SliceStable(edits, func(i, j int) bool {
		return edits[i].ClientTimestamp < edits[j].ClientTimestamp
	})
}

// ReplayResult reports how many buffered edits were applied.
type ReplayResult struct {
	AppliedCount int
}

// Replay implements the sync-offline-edits handler of spec.md §4.G:
// authorize, lock the document, apply each buffered bundle in timestamp
// order (skipping failures), and if any succeeded persist the result and
// broadcast document-updated + version-created to the whole room.
func (b *Buffer) Replay(ctx context.Context, s *room.Session, docID uuid.UUID) (*ReplayResult, error) {
	// Step 1: authorize.
	perm, err := b.db.GetPermission(ctx, docID, s.UserID)
	if err != nil {
		return nil, err
	}
	if perm == nil || !perm.CanEdit() {
		return nil, errForbidden
	}

	edits, err := b.drain(ctx, docID, s.UserID)
	if err != nil {
		return nil, err
	}
	if len(edits) == 0 {
		return &ReplayResult{AppliedCount: 0}, nil
	}

	// Step 2: acquire the per-document mutex.
	handle, err := b.shadows.Lock(ctx, docID)
	if err != nil {
		return nil, err
	}
	defer handle.Unlock()

	// Step 3: load shadow.
	current := handle.Text()
	applied := 0

	// Step 4: apply each bundle in timestamp order, skipping failures.
	for _, edit := range edits {
		patch, err := diffsync.Decode(edit.Bundle.Encoded)
		if err != nil {
			logger.Warn("[Offline] dropping malformed bundle for doc %s user %s", docID, s.UserID)
			continue
		}
		next, results := diffsync.Apply(patch, current)
		if !diffsync.AllApplied(results) {
			logger.Warn("[Offline] skipping bundle that failed to apply for doc %s user %s", docID, s.UserID)
			continue
		}
		current = next
		applied++
	}

	if applied == 0 {
		return &ReplayResult{AppliedCount: 0}, nil
	}

	// Step 5: commit shadow, content, version; broadcast full content.
	handle.Set(current)
	if err := b.db.SaveDocumentHead(ctx, docID, current); err != nil {
		return nil, err
	}

	newVersion, err := b.db.AppendVersion(ctx, docID, models.Version{
		Content:           current,
		AuthorID:          s.UserID,
		ChangeDescription: describeReplay(applied),
		Timestamp:         time.Now(),
	})
	if err != nil {
		logger.Warn("[Offline] failed to append replay version for doc %s: %v", docID, err)
	}

	if r, ok := b.registry.Get(docID); ok {
		updated, err := models.NewEnvelope(models.EventDocumentUpdated, models.DocumentUpdatedPayload{
			Content:  current,
			UserID:   s.UserID.String(),
			Username: s.User.Name,
		})
		if err == nil {
			r.Broadcast(updated, nil)
		}

		created, err := models.NewEnvelope(models.EventVersionCreated, models.VersionCreatedPayload{
			VersionIndex: newVersion,
			UserID:       s.UserID.String(),
			Username:     s.User.Name,
			Timestamp:    time.Now(),
		})
		if err == nil {
			r.Broadcast(created, nil)
		}
	}

	return &ReplayResult{AppliedCount: applied}, nil
}

func describeReplay(n int) string {
	if n == 1 {
		return "Synced 1 offline edit"
	}
	return "Synced " + strconv.Itoa(n) + " offline edits"
}

type offlineError string

func (e offlineError) Error() string { return string(e) }

const errForbidden = offlineError("no edit access to this document")
