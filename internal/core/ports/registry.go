package ports

import (
	"context"

	"medlink/internal/core/domain"
)

// RoomRegistry owns participant entries. Rooms are created lazily on the
// first join and destroyed when the last member leaves; no state survives a
// server restart.
type RoomRegistry interface {
	// Join adds an entry for the connection, replacing any existing entry
	// for the same connection (idempotent re-join). A join by a
	// participant already present in the room on another connection evicts
	// the stale entry, which is returned so the transport can be closed. A
	// join by a third distinct participant fails with domain.ErrRoomFull.
	Join(ctx context.Context, m domain.Member) (evicted *domain.Member, err error)

	// Leave removes the entry for the connection. Removing an unknown
	// connection is a no-op returning (nil, nil); duplicate disconnect
	// events must be tolerated.
	Leave(ctx context.Context, connID domain.ConnectionID) (*domain.Member, error)

	// MembersOf returns the members of the room excluding the given
	// connection. Used by the relay to compute forward targets.
	MembersOf(ctx context.Context, callID domain.CallID, exclude domain.ConnectionID) []domain.Member

	// Lookup returns the member entry for a connection, if any.
	Lookup(ctx context.Context, connID domain.ConnectionID) (*domain.Member, bool)

	// Stats returns the current member and room counts.
	Stats(ctx context.Context) (members, rooms int)
}
