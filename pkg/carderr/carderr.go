// Package carderr defines the failure taxonomy of a card acquisition.
//
// Every failure is one of four categories, each a struct carrying the context needed to
// render a message (step, object, offset, tag, status word) and unwrapping to one of the
// sentinel errors below:
//
//	SessionError  tag not found, tag lost, timeout, transport interruption
//	AuthError     malformed identifier, key derivation, chip-rejected authentication
//	ReadError     short chunk, chunk exhausted, length mismatch, object not found
//	DecodeError   truncated record, encoding mismatch, malformed tag or length, missing field
//
// None of the types hold identifier or key material.
package carderr

import (
	"errors"
	"fmt"
)

// Session failures.
var (
	ErrNoTagDetected        = errors.New("no tag detected")
	ErrTagLost              = errors.New("tag lost")
	ErrTimeout              = errors.New("timeout")
	ErrTransportInterrupted = errors.New("transport interrupted")
	ErrSessionClosed        = errors.New("session closed")
)

// Authentication failures.
var (
	ErrInvalidIdentifierFormat = errors.New("invalid identifier format")
	ErrAuthRejected            = errors.New("authentication rejected by card")
	ErrAuthBlocked             = errors.New("authentication blocked")
	ErrKeyDerivation           = errors.New("access key derivation failed")
)

// Read failures.
var (
	ErrShortChunk      = errors.New("short chunk")
	ErrChunkExhausted  = errors.New("chunk retries exhausted")
	ErrLengthMismatch  = errors.New("object length mismatch")
	ErrObjectNotFound  = errors.New("object not found")
	ErrSecurityStatus  = errors.New("security status not satisfied")
	ErrUnexpectedReply = errors.New("unexpected card status")
)

// Decode failures.
var (
	ErrTruncatedRecord  = errors.New("truncated record")
	ErrEncodingMismatch = errors.New("encoding mismatch")
	ErrMalformedLength  = errors.New("malformed length")
	ErrMalformedTag     = errors.New("malformed tag")
	ErrMissingField     = errors.New("missing required field")
)

// SessionError reports a failure of the transport session itself.
type SessionError struct {
	Op  string // open, transmit, close, acquisition
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// AuthError reports an identifier or authentication failure.
type AuthError struct {
	Step   string
	Status uint16 // 0 when the failure happened before any exchange
	// RetriesLeft is the remaining attempt counter reported by the card (63CX), -1 if unknown.
	RetriesLeft int
	Reason      string
	Err         error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("auth %s: %v", e.Step, e.Err)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" [SW %04X]", e.Status)
	}
	if e.RetriesLeft >= 0 {
		msg += fmt.Sprintf(", %d retries left", e.RetriesLeft)
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// ReadError reports a failure while selecting or reading a data object.
type ReadError struct {
	Object string
	Offset int
	Status uint16
	Err    error
	// Cause is the last underlying failure when Err summarises several attempts.
	Cause error
}

func (e *ReadError) Error() string {
	msg := fmt.Sprintf("read %s at offset %d: %v", e.Object, e.Offset, e.Err)
	if e.Status != 0 {
		msg += fmt.Sprintf(" [SW %04X]", e.Status)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the category sentinel and the last cause.
func (e *ReadError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// DecodeError reports a failure to decode an object's TLV content.
type DecodeError struct {
	Object string
	Tag    string
	Offset int
	Err    error
	Detail string
}

func (e *DecodeError) Error() string {
	msg := "decode"
	if e.Object != "" {
		msg += " " + e.Object
	}
	if e.Tag != "" {
		msg += " tag " + e.Tag
	}
	msg += fmt.Sprintf(" at offset %d: %v", e.Offset, e.Err)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Category names the taxonomy bucket of err, or "unknown".
func Category(err error) string {
	var (
		se *SessionError
		ae *AuthError
		re *ReadError
		de *DecodeError
	)
	switch {
	case errors.As(err, &ae):
		return "auth"
	case errors.As(err, &re):
		return "read"
	case errors.As(err, &de):
		return "decode"
	case errors.As(err, &se):
		return "session"
	default:
		return "unknown"
	}
}
