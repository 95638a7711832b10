package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewConnectionID returns the identifier assigned to one transport
// connection. Unique per connection, not per participant: a reconnect gets a
// new one.
func NewConnectionID() string {
	return uuid.NewString()
}

// NewParticipantID generates a participant identifier for ad-hoc clients
// that were not handed one by the platform.
func NewParticipantID() string {
	return "participant-" + uuid.NewString()
}

// NewRequestID generates a unique request ID for HTTP logging.
func NewRequestID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", time.Now().UnixNano(), hex.EncodeToString(b))
}
