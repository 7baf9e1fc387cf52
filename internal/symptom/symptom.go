// Package symptom implements the Symposium error taxonomy: kinds, not Go
// error types, each with a fixed propagation policy (§7).
package symptom

import "fmt"

// Kind is one of the nine error kinds the system distinguishes. Kind
// values are stable strings so they can be serialized onto the bus as a
// structured error's error-kind tag.
type Kind string

const (
	EndpointContention Kind = "EndpointContention"
	BindFailure         Kind = "BindFailure"
	ProtocolViolation   Kind = "ProtocolViolation"
	DeliveryDropped     Kind = "DeliveryDropped"
	Timeout             Kind = "Timeout"
	NotFound            Kind = "NotFound"
	ValidationError     Kind = "ValidationError"
	PermissionDenied    Kind = "PermissionDenied"
	StateConflict       Kind = "StateConflict"
)

// Error wraps a Kind with a message and an optional correlation id, so a
// component can return one Go error type everywhere and switch on Kind at
// the boundary that needs to (reply envelope construction, CLI exit
// status, HTTP health response).
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	Cause         error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds a symptom.Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a symptom.Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a symptom.Error of the given kind around an underlying
// cause, preserving it for errors.Unwrap/errors.Is chains.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithCorrelation returns a copy of e carrying correlationID, used when
// constructing the reply envelope for a request-attributable error
// (Timeout, NotFound, ValidationError, StateConflict per §7).
func (e *Error) WithCorrelation(correlationID string) *Error {
	cp := *e
	cp.CorrelationID = correlationID
	return &cp
}

// Fatal reports whether errors of this kind terminate the broker process
// rather than being recovered in place or returned as a reply. Only
// broker-internal invariant violations are fatal; those are raised via
// panic rather than this type, so Fatal always reports false here — kept
// as a documented reference point for callers auditing propagation policy.
func (k Kind) Fatal() bool {
	return false
}

// PeerLocal reports whether this kind is recovered in place at the peer
// connection that triggered it, rather than being surfaced as a reply.
func (k Kind) PeerLocal() bool {
	switch k {
	case ProtocolViolation, DeliveryDropped:
		return true
	default:
		return false
	}
}
