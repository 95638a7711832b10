package domain

import "encoding/json"

type MessageType string

const (
	// client -> server
	MsgJoinCall  MessageType = "join-call"
	MsgEndCall   MessageType = "end-call"
	MsgOffer     MessageType = "webrtc-offer"
	MsgAnswer    MessageType = "webrtc-answer"
	MsgCandidate MessageType = "webrtc-candidate"

	// server -> client
	MsgUserConnected    MessageType = "user-connected"
	MsgUserDisconnected MessageType = "user-disconnected"
	MsgCallEnded        MessageType = "call-ended"
	MsgError            MessageType = "error"
)

// Forwardable reports whether the relay routes this message type to the
// other members of the room. Forwardable payloads are never inspected.
func (t MessageType) Forwardable() bool {
	switch t {
	case MsgOffer, MsgAnswer, MsgCandidate:
		return true
	default:
		return false
	}
}

// Envelope is the wire format for all signaling traffic. Payload stays a
// json.RawMessage end to end: the relay routes on Type and CallID only and
// forwards the payload byte-for-byte.
type Envelope struct {
	Type          MessageType     `json:"type"`
	CallID        CallID          `json:"call_id,omitempty"`
	ParticipantID ParticipantID   `json:"participant_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// SessionDescriptionPayload carries an SDP offer or answer. Interpreted by
// the endpoints only.
type SessionDescriptionPayload struct {
	SDP string `json:"sdp"`
}

// CandidatePayload carries one ICE candidate in ICECandidateInit JSON form.
type CandidatePayload struct {
	Candidate string `json:"candidate"`
}

// PresencePayload is attached to user-connected / user-disconnected events.
// It carries only the participant identity, never transport details.
type PresencePayload struct {
	ParticipantID ParticipantID `json:"participant_id"`
	Role          Role          `json:"role,omitempty"`
}

// ErrorPayload is attached to error messages sent back to the offending
// connection.
type ErrorPayload struct {
	Message string `json:"message"`
}
