package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"medlink/internal/core/domain"
	registrymem "medlink/internal/infrastructure/registry/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingSender struct {
	sent map[domain.ConnectionID][]*domain.Envelope
}

func newCapturingSender() *capturingSender {
	return &capturingSender{sent: make(map[domain.ConnectionID][]*domain.Envelope)}
}

func (s *capturingSender) Send(connID domain.ConnectionID, env *domain.Envelope) error {
	s.sent[connID] = append(s.sent[connID], env)
	return nil
}

func member(conn, participant string, role domain.Role) domain.Member {
	return domain.Member{
		ConnID:        domain.ConnectionID(conn),
		CallID:        "appt-1",
		ParticipantID: domain.ParticipantID(participant),
		Role:          role,
		JoinedAt:      time.Now(),
	}
}

func TestMemberJoinedNotifiesBothDirections(t *testing.T) {
	registry := registrymem.NewRoomRegistry()
	sender := newCapturingSender()
	tracker := NewPresenceTracker(registry, sender, nil)

	doctor := member("conn-dr", "dr-1", domain.RoleDoctor)
	patient := member("conn-pt", "pt-1", domain.RolePatient)

	_, err := registry.Join(context.Background(), doctor)
	require.NoError(t, err)
	tracker.MemberJoined(doctor)
	assert.Empty(t, sender.sent, "no notifications in an empty room")

	_, err = registry.Join(context.Background(), patient)
	require.NoError(t, err)
	tracker.MemberJoined(patient)

	// Existing member hears about the newcomer.
	require.Len(t, sender.sent[doctor.ConnID], 1)
	env := sender.sent[doctor.ConnID][0]
	assert.Equal(t, domain.MsgUserConnected, env.Type)
	var presence domain.PresencePayload
	require.NoError(t, json.Unmarshal(env.Payload, &presence))
	assert.Equal(t, domain.ParticipantID("pt-1"), presence.ParticipantID)
	assert.Equal(t, domain.RolePatient, presence.Role)

	// Newcomer hears about the existing member.
	require.Len(t, sender.sent[patient.ConnID], 1)
	env = sender.sent[patient.ConnID][0]
	assert.Equal(t, domain.MsgUserConnected, env.Type)
	require.NoError(t, json.Unmarshal(env.Payload, &presence))
	assert.Equal(t, domain.ParticipantID("dr-1"), presence.ParticipantID)
}

func TestMemberLeftNotifiesRemaining(t *testing.T) {
	registry := registrymem.NewRoomRegistry()
	sender := newCapturingSender()
	tracker := NewPresenceTracker(registry, sender, nil)

	doctor := member("conn-dr", "dr-1", domain.RoleDoctor)
	patient := member("conn-pt", "pt-1", domain.RolePatient)
	_, err := registry.Join(context.Background(), doctor)
	require.NoError(t, err)
	_, err = registry.Join(context.Background(), patient)
	require.NoError(t, err)

	left, err := registry.Leave(context.Background(), doctor.ConnID)
	require.NoError(t, err)
	require.NotNil(t, left)
	tracker.MemberLeft(*left)

	require.Len(t, sender.sent[patient.ConnID], 1)
	env := sender.sent[patient.ConnID][0]
	assert.Equal(t, domain.MsgUserDisconnected, env.Type)

	var presence domain.PresencePayload
	require.NoError(t, json.Unmarshal(env.Payload, &presence))
	assert.Equal(t, domain.ParticipantID("dr-1"), presence.ParticipantID)
}
