// Package metaerr defines the four error kinds surfaced by the metastore.
package metaerr

import (
	"errors"
	"fmt"
)

// Kind classifies a metastore error for callers deciding whether to retry
// or surface the error verbatim.
type Kind int

const (
	// User indicates the caller violated a documented contract: unknown
	// entity, bad identifier, malformed request. Never retried.
	User Kind = iota
	// Internal indicates an impossible state was reached: a missing
	// primary row after an index lookup, a row-count mismatch in a
	// partition swap, a dropped job still present. May trigger local
	// repair (index rebuild) before surfacing.
	Internal
	// Unsupported indicates the shape of the request is not implemented.
	// Never retried.
	Unsupported
	// Unknown indicates a specific lookup returned no match when the
	// caller wanted one.
	Unknown
)

func (k Kind) String() string {
	switch k {
	case User:
		return "user"
	case Internal:
		return "internal"
	case Unsupported:
		return "unsupported"
	case Unknown:
		return "unknown"
	default:
		return "unknown_kind"
	}
}

// Error is the typed error returned by metastore operations.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Newf builds an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err is a metaerr.Error of the given kind.
func Is(err error, kind Kind) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or Internal if err is not a *Error.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return Internal
}
