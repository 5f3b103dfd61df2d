// Package version implements the Version Snapshotter (spec.md §4.H):
// append-only version history plus revert, which materializes a past
// version's content as a new head version.
//
// Grounded on the teacher's db.SaveSnapshot/ListSnapshots (version
// numbering via a transactional COALESCE(MAX...)+1), generalized from
// opaque binary Yjs snapshots to {content, author, description, timestamp}
// rows, and extended with Revert, which the teacher's CRDT model has no
// equivalent operation for.
//
// Revert is reachable from the HTTP directory surface (internal/api),
// a separate process from the websocket room registry, so it notifies
// connected peers the way cross-instance edits already do: publish to
// the document's Redis room channel rather than calling into an
// in-process room.Room directly. A syncserver instance with that room
// open relays the message to its local sessions exactly as it would an
// edit broadcast from a peer instance.
package version

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/syncdocs/backend/internal/logger"
	"github.com/syncdocs/backend/internal/models"
	"github.com/syncdocs/backend/internal/redisbus"
	"github.com/syncdocs/backend/internal/shadow"
)

// Store is the slice of db.DB Revert/List need. Accepting this instead of
// *db.DB lets tests drive Revert's full algorithm against an in-memory
// fake instead of a live Postgres connection.
type Store interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	GetPermission(ctx context.Context, docID, userID uuid.UUID) (*models.DocumentPermission, error)
	GetVersions(ctx context.Context, docID uuid.UUID) ([]models.Version, error)
	AppendVersion(ctx context.Context, docID uuid.UUID, v models.Version) (int, error)
	SaveDocumentHead(ctx context.Context, id uuid.UUID, content string) error
}

// Publisher is the slice of redisbus.Bus Revert needs to notify connected
// sessions. Accepting this instead of *redisbus.Bus lets tests capture
// published envelopes without a live Redis connection.
type Publisher interface {
	Publish(channel string, msg *redisbus.Message) error
}

// Snapshotter appends and reverts document versions.
type Snapshotter struct {
	db         Store
	shadows    *shadow.Store
	bus        Publisher
	instanceID string
}

// New creates a version snapshotter. instanceID identifies this process
// to the room channel's loop-prevention check, the same role it plays
// for internal/room.Registry.
func New(database Store, shadows *shadow.Store, bus Publisher, instanceID string) *Snapshotter {
	return &Snapshotter{db: database, shadows: shadows, bus: bus, instanceID: instanceID}
}

// List returns a document's full version history, oldest first.
func (sn *Snapshotter) List(ctx context.Context, docID uuid.UUID) ([]models.Version, error) {
	return sn.db.GetVersions(ctx, docID)
}

// Revert implements spec.md §4.H's revert algorithm: authorize, validate
// the target index, append a new version carrying the target's content
// under the document mutex, update content and the shadow, and publish
// document-updated + version-created to the room channel.
func (sn *Snapshotter) Revert(ctx context.Context, userID uuid.UUID, username string, docID uuid.UUID, index int) (*models.Document, error) {
	perm, err := sn.db.GetPermission(ctx, docID, userID)
	if err != nil {
		return nil, err
	}
	if perm == nil || !perm.CanEdit() {
		return nil, ErrForbidden
	}

	versions, err := sn.db.GetVersions(ctx, docID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(versions) {
		return nil, ErrInvalidIndex
	}
	target := versions[index]

	handle, err := sn.shadows.Lock(ctx, docID)
	if err != nil {
		return nil, err
	}
	defer handle.Unlock()

	newVersion, err := sn.db.AppendVersion(ctx, docID, models.Version{
		Content:           target.Content,
		AuthorID:          userID,
		ChangeDescription: fmt.Sprintf("Reverted to version %d", index+1),
		Timestamp:         time.Now(),
	})
	if err != nil {
		return nil, err
	}

	if err := sn.db.SaveDocumentHead(ctx, docID, target.Content); err != nil {
		return nil, err
	}
	handle.Set(target.Content)

	sn.publish(docID, models.EventDocumentUpdated, models.DocumentUpdatedPayload{
		Content:  target.Content,
		UserID:   userID.String(),
		Username: username,
	})
	sn.publish(docID, models.EventVersionCreated, models.VersionCreatedPayload{
		VersionIndex: newVersion,
		UserID:       userID.String(),
		Username:     username,
		Timestamp:    time.Now(),
	})

	return sn.db.GetDocument(ctx, docID)
}

func (sn *Snapshotter) publish(docID uuid.UUID, eventType string, payload interface{}) {
	data, err := models.NewEnvelope(eventType, payload)
	if err != nil {
		logger.Warn("[Version] failed to encode %s for doc %s: %v", eventType, docID, err)
		return
	}
	if err := sn.bus.Publish(redisbus.GetRoomChannel(docID.String()), &redisbus.Message{
		Type:    "broadcast",
		From:    sn.instanceID,
		Payload: data,
	}); err != nil {
		logger.Warn("[Version] failed to publish %s for doc %s: %v", eventType, docID, err)
	}
}

type versionError string

func (e versionError) Error() string { return string(e) }

// Exported so callers across process boundaries (internal/api) can branch
// on which failure occurred without string-matching error text.
const (
	ErrForbidden    = versionError("no edit access to this document")
	ErrInvalidIndex = versionError("version index out of range")
)
