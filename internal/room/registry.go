package room

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syncdocs/backend/internal/logger"
	"github.com/syncdocs/backend/internal/redisbus"
)

// idleCheckInterval and idleTimeout bound how long a room with no sessions
// lingers before it is torn down, mirroring the teacher's checkIdle policy.
const (
	idleCheckInterval = 30 * time.Second
	idleTimeout       = 5 * time.Minute
)

// Registry is the process-wide map from document id to Room, per spec.md
// §4.C. Grounded on the teacher's RoomManager.
type Registry struct {
	mu         sync.RWMutex
	rooms      map[uuid.UUID]*Room
	bus        *redisbus.Bus
	instanceID string
	ctx        context.Context
}

// NewRegistry creates an empty room registry.
func NewRegistry(ctx context.Context, bus *redisbus.Bus) *Registry {
	return &Registry{
		rooms:      make(map[uuid.UUID]*Room),
		bus:        bus,
		instanceID: uuid.New().String(),
		ctx:        ctx,
	}
}

// Join returns the room for docID, creating it (and starting its idle
// watchdog) if this is the first join.
func (reg *Registry) Join(docID uuid.UUID, s *Session) *Room {
	reg.mu.Lock()
	r, exists := reg.rooms[docID]
	if !exists {
		r = newRoom(reg.ctx, docID, reg.bus, reg.instanceID)
		reg.rooms[docID] = r
		go reg.watchIdle(r)
	}
	reg.mu.Unlock()

	r.Join(s)
	s.Join(docID)
	return r
}

// Leave removes a session from docID's room. If the room becomes empty it
// is destroyed immediately; the idle watchdog is a backstop for rooms that
// never see an explicit leave (e.g. ungraceful disconnects already handled
// by the caller removing the session from every joined room).
func (reg *Registry) Leave(docID uuid.UUID, s *Session) {
	reg.mu.RLock()
	r, exists := reg.rooms[docID]
	reg.mu.RUnlock()
	if !exists {
		return
	}

	s.Leave(docID)
	if empty := r.Leave(s); empty {
		reg.remove(docID, r)
	}
}

// Get returns the room for docID if one is currently open.
func (reg *Registry) Get(docID uuid.UUID) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[docID]
	return r, ok
}

// RoomCount returns the number of currently open rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// CloseAll tears down every open room, used during graceful shutdown.
func (reg *Registry) CloseAll() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for id, r := range reg.rooms {
		r.close()
		delete(reg.rooms, id)
	}
}

func (reg *Registry) remove(docID uuid.UUID, r *Room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.rooms[docID] == r {
		r.close()
		delete(reg.rooms, docID)
	}
}

func (reg *Registry) watchIdle(r *Room) {
	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-reg.ctx.Done():
			return
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if r.SessionCount() == 0 && r.idleSince() > idleTimeout {
				logger.Info("[Room] closing idle room %s", r.ID)
				reg.remove(r.ID, r)
				return
			}
		}
	}
}
