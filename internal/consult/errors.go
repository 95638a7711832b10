package consult

import "fmt"

// ErrorKind classifies call failures. Each kind has a distinct recovery
// story: media errors need a user action, transport errors are retried up to
// a bound before surfacing, negotiation errors are terminal, and a timeout
// is kept distinct from a hard failure because the network may simply be
// slow.
type ErrorKind string

const (
	ErrKindMedia       ErrorKind = "media"
	ErrKindTransport   ErrorKind = "transport"
	ErrKindNegotiation ErrorKind = "negotiation"
	ErrKindTimeout     ErrorKind = "timeout"
)

// CallError is the single error shape surfaced to the UI layer: a
// human-readable message plus a recommended action.
type CallError struct {
	Kind    ErrorKind
	Message string
	Advice  string
	Cause   error
}

func (e *CallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

func mediaError(cause error) *CallError {
	return &CallError{
		Kind:    ErrKindMedia,
		Message: "could not access camera or microphone",
		Advice:  "check device permissions and try again",
		Cause:   cause,
	}
}

func transportError(message string, cause error) *CallError {
	return &CallError{
		Kind:    ErrKindTransport,
		Message: message,
		Advice:  "reload the page to reconnect",
		Cause:   cause,
	}
}

func negotiationError(message string, cause error) *CallError {
	return &CallError{
		Kind:    ErrKindNegotiation,
		Message: message,
		Advice:  "go back and rejoin the consultation",
		Cause:   cause,
	}
}

func timeoutError() *CallError {
	return &CallError{
		Kind:    ErrKindTimeout,
		Message: "connection timed out",
		Advice:  "your network may be slow; reload to try again",
	}
}
