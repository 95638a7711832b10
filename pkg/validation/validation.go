package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// CallIDRegex validates appointment/call identifier format.
	CallIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// ParticipantIDRegex validates participant identifier format.
	ParticipantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateCallID validates an appointment/call identifier.
func ValidateCallID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("call id is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("call id is too long (max 100 characters)")
	}
	if !CallIDRegex.MatchString(id) {
		return fmt.Errorf("call id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateParticipantID validates a participant identifier.
func ValidateParticipantID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("participant id is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("participant id is too long (max 100 characters)")
	}
	if !ParticipantIDRegex.MatchString(id) {
		return fmt.Errorf("participant id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidatePrescription validates prescription text before it is written to
// the document store.
func ValidatePrescription(text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("prescription must be valid UTF-8")
	}
	if utf8.RuneCountInString(text) > 10000 {
		return fmt.Errorf("prescription is too long (max 10000 characters)")
	}
	return nil
}
