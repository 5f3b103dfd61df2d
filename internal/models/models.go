// Package models holds the shared domain and wire types for the
// differential-sync collaboration backend.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User represents a user in the system.
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"` // Never expose in JSON
	Name         string    `json:"name" db:"name"`
	AvatarURL    string    `json:"avatar_url,omitempty" db:"avatar_url"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Permission roles, ordered least to most privileged.
const (
	RoleView  = "view"
	RoleEdit  = "edit"
	RoleOwner = "owner"
)

// DocumentPermission represents a user's access level to a document.
type DocumentPermission struct {
	DocID     uuid.UUID `json:"doc_id" db:"doc_id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Role      string    `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// Joined field
	User *User `json:"user,omitempty"`
}

// CanEdit returns true if the role allows editing.
func (p *DocumentPermission) CanEdit() bool {
	return p.Role == RoleOwner || p.Role == RoleEdit
}

// CanView returns true if the role allows viewing.
func (p *DocumentPermission) CanView() bool {
	return true
}

// Version is an immutable historical snapshot of document content.
//
// versions is append-only: entries are never mutated after creation. Revert
// appends a new entry rather than rewriting an old one.
type Version struct {
	Content           string    `json:"content" db:"content"`
	AuthorID          uuid.UUID `json:"authorId" db:"author_id"`
	ChangeDescription string    `json:"changeDescription" db:"change_description"`
	Timestamp         time.Time `json:"timestamp" db:"timestamp"`
}

// Document is the authoritative record for a collaboratively edited text.
type Document struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Title          string    `json:"title" db:"title"`
	Content        string    `json:"content" db:"content"`
	OwnerID        uuid.UUID `json:"ownerId" db:"owner_id"`
	Versions       []Version `json:"versions"`
	CurrentVersion int       `json:"currentVersion"`
	LastModified   time.Time `json:"lastModified" db:"updated_at"`

	// ActiveEditors is transient presence state, never persisted.
	ActiveEditors map[string]*Presence `json:"activeEditors,omitempty"`

	// Joined fields, populated by the directory API only.
	Owner      *User  `json:"owner,omitempty"`
	Permission string `json:"permission,omitempty"`
}

// Selection is a character-offset range within a document's text.
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Presence is a connected editor's ephemeral cursor state within a room.
// Positions are advisory offsets into the content as the client most
// recently observed it; the server never rebases them against later edits.
type Presence struct {
	UserID         string    `json:"userId"`
	Username       string    `json:"username"`
	CursorPosition int       `json:"cursorPosition"`
	Selection      Selection `json:"selection"`
	LastActive     time.Time `json:"lastActive"`
}

// PatchBundle is the wire form of a diffsync.Patch: an opaque sequence of
// hunks with context windows, produced by diffsync.MakePatch and consumed by
// diffsync.Apply. Everything outside internal/diffsync treats it as opaque
// text.
type PatchBundle struct {
	Encoded string `json:"patches"`
}

// OfflineEdit is one buffered patch bundle accumulated while a client was
// disconnected, keyed by (userId, documentId) in the offline buffer.
type OfflineEdit struct {
	Bundle          PatchBundle `json:"patches"`
	ClientTimestamp int64       `json:"timestamp"`
	UserID          string      `json:"userId"`
	Username        string      `json:"username"`
}

// DocSnapshot is the persisted row form of a Version.
type DocSnapshot struct {
	DocID     uuid.UUID `json:"doc_id" db:"doc_id"`
	Version   int       `json:"version" db:"version"`
	Content   string    `json:"content" db:"content"`
	AuthorID  uuid.UUID `json:"author_id" db:"author_id"`
	Description string  `json:"description" db:"description"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CreateDocumentRequest is the HTTP directory surface's create-document body.
type CreateDocumentRequest struct {
	Title string `json:"title" binding:"required"`
}

// UpdateDocumentRequest is the HTTP directory surface's rename-document body.
type UpdateDocumentRequest struct {
	Title string `json:"title" binding:"required"`
}

// SetCollaboratorRequest grants a user access to a document.
type SetCollaboratorRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required,oneof=owner edit view"`
}

// RevertRequest is unused on the wire (the version index is a path param)
// but documents the shape accepted by the revert endpoint's body, if any.
type RevertRequest struct {
	VersionIndex int `json:"versionIndex"`
}

// DevLoginRequest mirrors the teacher's local-dev login shortcut: exchange
// an email for a bearer token without a password (see
// auth.DevAuthMiddleware). The route is registered in every environment;
// nothing disables it in production.
type DevLoginRequest struct {
	Email string `json:"email" binding:"required"`
}

// Envelope is the wire shape of every websocket message in both
// directions: a named event type plus an opaque payload object, per
// spec.md §6 ("Messages are JSON objects with a named event type and a
// payload object"). Dispatch on the Type field is typed on both ends
// (internal/ws), unlike the teacher's free-form map switch.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload and wraps it in an Envelope of the given
// event type, ready to send on a Session's sink.
func NewEnvelope(eventType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Payload: raw})
}

// Client-to-server websocket events, per spec.md §6.
const (
	EventJoinDocument     = "join-document"
	EventLeaveDocument    = "leave-document"
	EventDocumentChange   = "document-change"
	EventCursorPosition   = "cursor-position"
	EventSaveOfflineEdit  = "save-offline-edit"
	EventSyncOfflineEdits = "sync-offline-edits"
)

// Client-to-server payloads, one struct per event in the §6 table.

// JoinDocumentPayload is the join-document client payload.
type JoinDocumentPayload struct {
	DocumentID string `json:"documentId"`
}

// LeaveDocumentPayload is the leave-document client payload.
type LeaveDocumentPayload struct {
	DocumentID string `json:"documentId"`
}

// DocumentChangePayload is the document-change client payload.
type DocumentChangePayload struct {
	DocumentID          string `json:"documentId"`
	Patches             string `json:"patches"`
	ClientShadowVersion int    `json:"clientShadowVersion"`
}

// CursorPositionPayload is the cursor-position client payload, also reused
// (with userId/username added) for the server-to-client broadcast.
type CursorPositionPayload struct {
	DocumentID     string    `json:"documentId,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	Username       string    `json:"username,omitempty"`
	CursorPosition int       `json:"cursorPosition"`
	Selection      Selection `json:"selection"`
}

// SaveOfflineEditPayload is the save-offline-edit client payload.
type SaveOfflineEditPayload struct {
	DocumentID string `json:"documentId"`
	Patches    string `json:"patches"`
	Timestamp  int64  `json:"timestamp"`
}

// SyncOfflineEditsPayload is the sync-offline-edits client payload.
type SyncOfflineEditsPayload struct {
	DocumentID string `json:"documentId"`
}

// Server-to-client payloads, one struct per event in the §6 table.

// DocumentDataPayload answers join-document with the full document plus
// roster.
type DocumentDataPayload struct {
	Document      *Document            `json:"document"`
	ActiveEditors map[string]*Presence `json:"activeEditors"`
}

// DocumentChangeBroadcast relays a successfully-applied patch to peers.
type DocumentChangeBroadcast struct {
	Patches  string `json:"patches"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// EditorRosterPayload backs both editor-joined and editor-left.
type EditorRosterPayload struct {
	UserID        string               `json:"userId"`
	Username      string               `json:"username"`
	ActiveEditors map[string]*Presence `json:"activeEditors"`
}

// VersionCreatedPayload announces a new append-only version entry.
type VersionCreatedPayload struct {
	VersionIndex int       `json:"versionIndex"`
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	Timestamp    time.Time `json:"timestamp"`
}

// SyncRequiredPayload tells one client to discard its local base.
type SyncRequiredPayload struct {
	Content             string `json:"content"`
	ServerShadowVersion int    `json:"serverShadowVersion"`
}

// DocumentUpdatedPayload carries full content after a batched operation
// (offline replay, revert) that has no single patch peers can apply.
type DocumentUpdatedPayload struct {
	Content  string `json:"content"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// OfflineEditsAvailablePayload tells a joiner the server holds buffered
// edits for them.
type OfflineEditsAvailablePayload struct {
	Count int `json:"count"`
}

// OfflineEditSavedPayload acknowledges a buffered push.
type OfflineEditSavedPayload struct {
	Success bool `json:"success"`
}

// OfflineEditsSyncedPayload reports how many buffered edits applied.
type OfflineEditsSyncedPayload struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

// ErrorPayload is the error event payload.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Server-to-client websocket events, per spec.md §6.
const (
	EventDocumentData          = "document-data"
	EventEditorJoined          = "editor-joined"
	EventEditorLeft            = "editor-left"
	EventVersionCreated        = "version-created"
	EventSyncRequired          = "sync-required"
	EventDocumentUpdated       = "document-updated"
	EventOfflineEditsAvailable = "offline-edits-available"
	EventOfflineEditSaved      = "offline-edit-saved"
	EventOfflineEditsSynced    = "offline-edits-synced"
	EventError                 = "error"
)
