package domain

import "time"

// Consultation is the document-store record attached to an appointment. The
// signaling core never touches it; it is read and written through the HTTP
// API before and after the call.
type Consultation struct {
	AppointmentID CallID        `json:"appointment_id"`
	Prescription  string        `json:"prescription"`
	UpdatedBy     ParticipantID `json:"updated_by,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
