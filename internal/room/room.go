package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syncdocs/backend/internal/logger"
	"github.com/syncdocs/backend/internal/models"
	"github.com/syncdocs/backend/internal/redisbus"
)

// Room is the set of sessions currently joined to one document, plus their
// presence roster. Created on first join, destroyed on last leave, exactly
// as spec.md §3/§4.C describe — grounded on the teacher's Room, with the
// CRDT document state stripped out (the sync engine owns content now, not
// the room).
type Room struct {
	ID           uuid.UUID
	mu           sync.RWMutex
	sessions     map[string]*Session
	presence     map[string]*models.Presence
	bus          *redisbus.Bus
	instanceID   string
	lastActivity time.Time
	ctx          context.Context
	cancel       context.CancelFunc
}

func newRoom(ctx context.Context, docID uuid.UUID, bus *redisbus.Bus, instanceID string) *Room {
	roomCtx, cancel := context.WithCancel(ctx)
	r := &Room{
		ID:           docID,
		sessions:     make(map[string]*Session),
		presence:     make(map[string]*models.Presence),
		bus:          bus,
		instanceID:   instanceID,
		lastActivity: time.Now(),
		ctx:          roomCtx,
		cancel:       cancel,
	}

	roomChannel := redisbus.GetRoomChannel(docID.String())
	bus.Subscribe(roomChannel, r.handleRemoteBroadcast)

	return r
}

// Join adds a session to the room's roster.
func (r *Room) Join(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	r.lastActivity = time.Now()
}

// Leave removes a session from the room's roster and its presence entry.
// Reports whether the room is now empty.
func (r *Room) Leave(s *Session) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s.ID)
	delete(r.presence, s.UserID.String())
	r.lastActivity = time.Now()
	return len(r.sessions) == 0
}

// SessionCount returns the number of locally connected sessions.
func (r *Room) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Presence returns a snapshot of the room's current presence roster.
func (r *Room) Presence() map[string]*models.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*models.Presence, len(r.presence))
	for k, v := range r.presence {
		out[k] = v
	}
	return out
}

// SetPresence upserts one user's presence entry.
func (r *Room) SetPresence(p *models.Presence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence[p.UserID] = p
	r.lastActivity = time.Now()
}

// RemovePresence deletes a user's presence entry.
func (r *Room) RemovePresence(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.presence, userID)
}

// Broadcast enqueues data on every local session's sink except those in
// skip, then relays it to other instances over Redis so a document split
// across server processes still converges. A session whose sink is full
// is disconnected rather than blocked on, per spec.md §5's SlowPeer
// policy — its room memberships are torn down the same way a normal
// disconnect would be.
func (r *Room) Broadcast(data []byte, skip map[string]bool) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if skip != nil && skip[s.ID] {
			continue
		}
		sessions = append(sessions, s)
	}
	var slow []*Session
	for _, s := range sessions {
		if !s.TrySend(data) {
			slow = append(slow, s)
			delete(r.sessions, s.ID)
			delete(r.presence, s.UserID.String())
		}
	}
	r.mu.Unlock()

	for _, s := range slow {
		logger.Warn("[Room] disconnecting slow peer %s in doc %s", s.ID, r.ID)
		s.Leave(r.ID)
		s.Close()
	}

	if err := r.bus.Publish(redisbus.GetRoomChannel(r.ID.String()), &redisbus.Message{
		Type:    "broadcast",
		From:    r.instanceID,
		Payload: data,
	}); err != nil {
		logger.Warn("[Room] failed to publish to redis for doc %s: %v", r.ID, err)
	}
}

// broadcastLocal enqueues data on local sessions only, used internally
// to relay a message received from another instance without re-publishing
// it (which would otherwise loop forever).
func (r *Room) broadcastLocal(data []byte, skip map[string]bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if skip != nil && skip[s.ID] {
			continue
		}
		s.TrySend(data)
	}
}

func (r *Room) handleRemoteBroadcast(channel string, payload []byte) {
	var msg redisbus.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}
	if msg.From == r.instanceID {
		return
	}
	r.broadcastLocal(msg.Payload, nil)
}

// touch refreshes the room's last-activity timestamp.
func (r *Room) touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActivity = time.Now()
}

func (r *Room) idleSince() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return time.Since(r.lastActivity)
}

func (r *Room) close() {
	r.mu.Lock()
	for _, s := range r.sessions {
		s.Close()
	}
	r.sessions = nil
	r.mu.Unlock()

	r.bus.Unsubscribe(redisbus.GetRoomChannel(r.ID.String()))
	r.cancel()
}
