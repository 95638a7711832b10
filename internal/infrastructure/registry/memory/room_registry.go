package memory

import (
	"context"
	"sync"

	"medlink/internal/core/domain"
	"medlink/internal/core/ports"
)

// RoomRegistry is the in-memory registry of active call rooms. There is no
// persistent storage on purpose: the relay holds no negotiation state, so a
// restart only requires clients to re-join.
type RoomRegistry struct {
	byConn map[domain.ConnectionID]domain.Member
	rooms  map[domain.CallID]map[domain.ConnectionID]domain.Member
	mu     sync.RWMutex
}

func NewRoomRegistry() ports.RoomRegistry {
	return &RoomRegistry{
		byConn: make(map[domain.ConnectionID]domain.Member),
		rooms:  make(map[domain.CallID]map[domain.ConnectionID]domain.Member),
	}
}

func (r *RoomRegistry) Join(ctx context.Context, m domain.Member) (*domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Idempotent re-join: the connection's previous entry (same or other
	// room) is removed first, so a connection belongs to at most one room.
	if prev, ok := r.byConn[m.ConnID]; ok {
		r.removeLocked(prev)
	}

	var evicted *domain.Member
	room := r.rooms[m.CallID]
	for _, existing := range room {
		if existing.ParticipantID == m.ParticipantID {
			// Same participant on a fresh connection (new tab,
			// reconnect): the stale entry is evicted.
			stale := existing
			r.removeLocked(stale)
			evicted = &stale
			break
		}
	}

	if len(r.rooms[m.CallID]) >= domain.RoomCapacity {
		return nil, domain.ErrRoomFull
	}

	if r.rooms[m.CallID] == nil {
		r.rooms[m.CallID] = make(map[domain.ConnectionID]domain.Member)
	}
	r.rooms[m.CallID][m.ConnID] = m
	r.byConn[m.ConnID] = m

	return evicted, nil
}

func (r *RoomRegistry) Leave(ctx context.Context, connID domain.ConnectionID) (*domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byConn[connID]
	if !ok {
		// Duplicate disconnect events are expected; not an error.
		return nil, nil
	}
	r.removeLocked(m)
	return &m, nil
}

func (r *RoomRegistry) MembersOf(ctx context.Context, callID domain.CallID, exclude domain.ConnectionID) []domain.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[callID]
	members := make([]domain.Member, 0, len(room))
	for connID, m := range room {
		if connID == exclude {
			continue
		}
		members = append(members, m)
	}
	return members
}

func (r *RoomRegistry) Lookup(ctx context.Context, connID domain.ConnectionID) (*domain.Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	return &m, true
}

func (r *RoomRegistry) Stats(ctx context.Context) (members, rooms int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn), len(r.rooms)
}

// removeLocked deletes the entry and destroys the room when it empties.
// Callers must hold mu.
func (r *RoomRegistry) removeLocked(m domain.Member) {
	delete(r.byConn, m.ConnID)
	if room, ok := r.rooms[m.CallID]; ok {
		delete(room, m.ConnID)
		if len(room) == 0 {
			delete(r.rooms, m.CallID)
		}
	}
}
