package domain

import "time"

type CallID string
type ParticipantID string
type ConnectionID string

// Role of a consultation participant. The doctor is always the negotiation
// initiator; the patient only ever answers. Dropping this rule without a
// replacement tie-breaker reintroduces WebRTC glare.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

func (r Role) Valid() bool {
	return r == RoleDoctor || r == RolePatient
}

// Initiator reports whether this role creates the session offer.
func (r Role) Initiator() bool {
	return r == RoleDoctor
}

// Member is a participant entry in a call room. It is keyed by the transport
// connection, not by participant identity: a reconnecting participant gets a
// fresh entry with a new ConnID.
type Member struct {
	ConnID        ConnectionID
	CallID        CallID
	ParticipantID ParticipantID
	Role          Role
	JoinedAt      time.Time
}

// RoomCapacity is the expected cardinality of a consultation room: one
// doctor, one patient.
const RoomCapacity = 2
