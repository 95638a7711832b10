package ports

import "medlink/internal/core/domain"

// SignalSender delivers a server-originated envelope to one connection.
// Delivery is best-effort, matching the transport's own guarantee: a send to
// a connection that is gone returns an error which callers may ignore.
type SignalSender interface {
	Send(connID domain.ConnectionID, env *domain.Envelope) error
}

// PresenceNotifier emits join/leave events to the rest of the room. Neither
// the relay nor the registry ever blocks on these.
type PresenceNotifier interface {
	MemberJoined(m domain.Member)
	MemberLeft(m domain.Member)
}
