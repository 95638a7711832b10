package services

import (
	"context"
	"encoding/json"

	"medlink/internal/core/domain"
	"medlink/internal/core/ports"

	"go.uber.org/zap"
)

// PresenceTracker emits user-connected / user-disconnected events to the
// rest of a member's room. Events are informational and fire-and-forget:
// a failed send means the target connection is gone and will produce its own
// disconnect shortly.
type PresenceTracker struct {
	registry ports.RoomRegistry
	sender   ports.SignalSender
	logger   *zap.SugaredLogger
}

func NewPresenceTracker(registry ports.RoomRegistry, sender ports.SignalSender, logger *zap.SugaredLogger) *PresenceTracker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PresenceTracker{
		registry: registry,
		sender:   sender,
		logger:   logger,
	}
}

// MemberJoined notifies the existing members of the newcomer, and the
// newcomer of each existing member. The second half lets an initiator who
// joins last discover that its peer is already waiting.
func (t *PresenceTracker) MemberJoined(m domain.Member) {
	others := t.registry.MembersOf(context.Background(), m.CallID, m.ConnID)

	for _, other := range others {
		t.notify(other.ConnID, domain.MsgUserConnected, m)
		t.notify(m.ConnID, domain.MsgUserConnected, other)
	}
}

// MemberLeft notifies the remaining members of the departure.
func (t *PresenceTracker) MemberLeft(m domain.Member) {
	for _, other := range t.registry.MembersOf(context.Background(), m.CallID, m.ConnID) {
		t.notify(other.ConnID, domain.MsgUserDisconnected, m)
	}
}

func (t *PresenceTracker) notify(target domain.ConnectionID, typ domain.MessageType, about domain.Member) {
	payload, err := json.Marshal(domain.PresencePayload{
		ParticipantID: about.ParticipantID,
		Role:          about.Role,
	})
	if err != nil {
		t.logger.Errorw("failed to marshal presence payload", "error", err)
		return
	}

	env := &domain.Envelope{
		Type:    typ,
		CallID:  about.CallID,
		Payload: payload,
	}
	if err := t.sender.Send(target, env); err != nil {
		t.logger.Debugw("presence notification dropped",
			"target_conn", target,
			"type", typ,
			"error", err,
		)
	}
}
