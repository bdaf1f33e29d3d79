// Package fault defines the typed errors reported by the resolution engine.
//
// Every failure the engine surfaces belongs to exactly one Kind. Callers
// match kinds with errors.Is against the exported sentinels, or extract the
// full *Error with errors.As when they need the entity or the cause.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an engine failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidQuery: unknown filter/sort field, malformed cursor, bad key.
	KindInvalidQuery
	// KindStaleCursor: cursor generated under a different sort order.
	KindStaleCursor
	// KindQueryTooExpensive: rejected by the complexity and depth guard.
	KindQueryTooExpensive
	// KindFetchFailed: storage error during a batch flush.
	KindFetchFailed
	// KindCancelled: the external request was aborted.
	KindCancelled
)

var (
	ErrInvalidQuery      = errors.New("invalid query")
	ErrStaleCursor       = errors.New("stale cursor")
	ErrQueryTooExpensive = errors.New("query too expensive")
	ErrFetchFailed       = errors.New("fetch failed")
	ErrCancelled         = errors.New("cancelled")
)

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidQuery:
		return ErrInvalidQuery
	case KindStaleCursor:
		return ErrStaleCursor
	case KindQueryTooExpensive:
		return ErrQueryTooExpensive
	case KindFetchFailed:
		return ErrFetchFailed
	case KindCancelled:
		return ErrCancelled
	}
	return nil
}

// Code returns the stable machine-readable code of the kind.
func (k Kind) Code() string {
	switch k {
	case KindInvalidQuery:
		return "INVALID_QUERY"
	case KindStaleCursor:
		return "STALE_CURSOR"
	case KindQueryTooExpensive:
		return "QUERY_TOO_EXPENSIVE"
	case KindFetchFailed:
		return "FETCH_FAILED"
	case KindCancelled:
		return "CANCELLED"
	}
	return "INTERNAL"
}

func (k Kind) String() string { return k.Code() }

// Error is the concrete error type for all kinds.
type Error struct {
	Kind    Kind
	Entity  string // entity type involved, if any
	Message string
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	msg := "engine error"
	if s := e.Kind.sentinel(); s != nil {
		msg = s.Error()
	}
	if e.Entity != "" {
		msg += " (" + e.Entity + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

func InvalidQuery(entity, format string, args ...any) error {
	return &Error{Kind: KindInvalidQuery, Entity: entity, Message: fmt.Sprintf(format, args...)}
}

func StaleCursor(entity, format string, args ...any) error {
	return &Error{Kind: KindStaleCursor, Entity: entity, Message: fmt.Sprintf(format, args...)}
}

func TooExpensive(format string, args ...any) error {
	return &Error{Kind: KindQueryTooExpensive, Message: fmt.Sprintf(format, args...)}
}

// FetchFailed wraps a storage error raised while flushing entity's batch.
func FetchFailed(entity string, err error) error {
	return &Error{Kind: KindFetchFailed, Entity: entity, Err: err}
}

// Cancelled wraps the cause of a request abort, typically ctx.Err().
func Cancelled(err error) error {
	return &Error{Kind: KindCancelled, Err: err}
}

// IsContextError reports whether err stems from a cancelled or expired context.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
