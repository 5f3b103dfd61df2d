// Package presence implements the Presence Tracker (spec.md §4.F): the
// per-room active-editor roster with cursor/selection, and the
// join-document handshake that answers a joiner with the current document
// plus roster.
//
// Grounded on the teacher's Room.presence map and
// UpdatePresence/broadcastPresenceUpdate, extended with the
// cursorPosition/selection fields spec.md §3 requires (the teacher only
// carried an anchor/head CRDT cursor).
package presence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/syncdocs/backend/internal/db"
	"github.com/syncdocs/backend/internal/logger"
	"github.com/syncdocs/backend/internal/models"
	"github.com/syncdocs/backend/internal/offline"
	"github.com/syncdocs/backend/internal/room"
)

// Tracker wires the room registry, persistence and offline buffer
// together to implement join-document, updateCursor and removeEditor.
type Tracker struct {
	db       *db.DB
	registry *room.Registry
	offline  *offline.Buffer
}

// New creates a presence tracker.
func New(database *db.DB, registry *room.Registry, offlineBuffer *offline.Buffer) *Tracker {
	return &Tracker{db: database, registry: registry, offline: offlineBuffer}
}

// JoinDocument implements spec.md §4.F's join-document handler: upserts the
// joiner's presence at cursor 0, replies with document-data, notifies
// peers with editor-joined, and flags any buffered offline edits.
func (t *Tracker) JoinDocument(ctx context.Context, s *room.Session, docID uuid.UUID) error {
	doc, err := t.db.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if doc == nil {
		return errNotFound
	}

	versions, err := t.db.GetVersions(ctx, docID)
	if err == nil {
		doc.Versions = versions
		doc.CurrentVersion = len(versions) - 1
	}

	r := t.registry.Join(docID, s)

	p := &models.Presence{
		UserID:         s.UserID.String(),
		Username:       s.User.Name,
		CursorPosition: 0,
		Selection:      models.Selection{Start: 0, End: 0},
		LastActive:     time.Now(),
	}
	r.SetPresence(p)

	doc.ActiveEditors = r.Presence()

	data, err := models.NewEnvelope(models.EventDocumentData, models.DocumentDataPayload{
		Document:      doc,
		ActiveEditors: doc.ActiveEditors,
	})
	if err == nil {
		s.TrySend(data)
	}

	joined, err := models.NewEnvelope(models.EventEditorJoined, models.EditorRosterPayload{
		UserID:        s.UserID.String(),
		Username:      s.User.Name,
		ActiveEditors: doc.ActiveEditors,
	})
	if err == nil {
		r.Broadcast(joined, map[string]bool{s.ID: true})
	}

	if has, err := t.offline.HasBuffered(ctx, docID, s.UserID); err == nil && has {
		count, _ := t.offline.Count(ctx, docID, s.UserID)
		avail, err := models.NewEnvelope(models.EventOfflineEditsAvailable, models.OfflineEditsAvailablePayload{Count: count})
		if err == nil {
			s.TrySend(avail)
		}
	}

	return nil
}

// LeaveDocument removes s from docID's room and notifies peers.
func (t *Tracker) LeaveDocument(docID uuid.UUID, s *room.Session) {
	r, ok := t.registry.Get(docID)
	if !ok {
		return
	}
	t.registry.Leave(docID, s)

	roster := r.Presence()
	left, err := models.NewEnvelope(models.EventEditorLeft, models.EditorRosterPayload{
		UserID:        s.UserID.String(),
		Username:      s.User.Name,
		ActiveEditors: roster,
	})
	if err == nil {
		r.Broadcast(left, nil)
	}
}

// UpdateCursor implements updateCursor: upsert presence, refresh
// lastActive, broadcast cursor-position to peers.
func (t *Tracker) UpdateCursor(docID uuid.UUID, s *room.Session, cursor int, sel models.Selection) {
	r, ok := t.registry.Get(docID)
	if !ok {
		logger.Warn("[Presence] cursor update for doc %s with no open room", docID)
		return
	}

	r.SetPresence(&models.Presence{
		UserID:         s.UserID.String(),
		Username:       s.User.Name,
		CursorPosition: cursor,
		Selection:      sel,
		LastActive:     time.Now(),
	})

	data, err := models.NewEnvelope(models.EventCursorPosition, models.CursorPositionPayload{
		UserID:         s.UserID.String(),
		Username:       s.User.Name,
		CursorPosition: cursor,
		Selection:      sel,
	})
	if err == nil {
		r.Broadcast(data, map[string]bool{s.ID: true})
	}
}

// RemoveEditor implements removeEditor: delete the presence entry and emit
// editor-left to peers.
func (t *Tracker) RemoveEditor(docID uuid.UUID, userID string, username string) {
	r, ok := t.registry.Get(docID)
	if !ok {
		return
	}
	r.RemovePresence(userID)

	left, err := models.NewEnvelope(models.EventEditorLeft, models.EditorRosterPayload{
		UserID:        userID,
		Username:      username,
		ActiveEditors: r.Presence(),
	})
	if err == nil {
		r.Broadcast(left, nil)
	}
}

type trackerError string

func (e trackerError) Error() string { return string(e) }

const errNotFound = trackerError("document not found")
