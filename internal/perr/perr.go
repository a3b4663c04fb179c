// Package perr defines the typed error kinds Proxide's components report,
// per the error handling policy: ConfigError aborts startup, per-connection
// kinds (TlsError, UpstreamError, H2ProtocolError) terminate only the
// affected connection, and DecodeError is never fatal to the wire.
package perr

import (
	"errors"
	"fmt"
)

// Kind classifies a Proxide error for dispatch by callers (abort startup,
// terminate one connection, or annotate a record and keep forwarding).
type Kind string

const (
	ConfigError     Kind = "ConfigError"
	TlsError        Kind = "TlsError"
	H2ProtocolError Kind = "H2ProtocolError"
	UpstreamError   Kind = "UpstreamError"
	DecodeError     Kind = "DecodeError"
	IoError         Kind = "IoError"
	Shutdown        Kind = "Shutdown"
)

// Error wraps an underlying cause with a Kind so callers can branch with
// errors.As without string-matching messages.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind and operation label.
func New(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == kind
}
