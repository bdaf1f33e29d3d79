package executor

import (
	"github.com/hanpama/graphload/internal/fault"
)

// Awaitable is anything a resolver can suspend on. Futures handed out by the
// request cache satisfy it.
type Awaitable interface {
	Ready() bool
}

// Result is what a resolver returns: a value, an error, or a continuation
// that runs once the awaited future is resolved.
type Result struct {
	val  any
	err  error
	on   Awaitable
	next func() Result
}

func Value(v any) Result { return Result{val: v} }

func Error(err error) Result { return Result{err: err} }

// Await suspends until on is ready, then continues with next.
func Await(on Awaitable, next func() Result) Result {
	if on.Ready() {
		return next()
	}
	return Result{on: on, next: next}
}

func (r Result) pending() bool { return r.next != nil }

// Then chains fn after r succeeds. Errors skip fn.
func (r Result) Then(fn func(v any) Result) Result {
	switch {
	case r.err != nil:
		return r
	case r.pending():
		next := r.next
		return Result{on: r.on, next: func() Result { return next().Then(fn) }}
	}
	return fn(r.val)
}

type Path []PathElement

type PathElement any

// GraphQLError represents an error that occurred during execution
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       Path           `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string {
	return e.Message
}

func newError(err error, path Path) GraphQLError {
	return GraphQLError{
		Message:    err.Error(),
		Path:       path,
		Extensions: map[string]any{"code": fault.KindOf(err).Code()},
	}
}

// ExecutionResult represents the result of executing a query
type ExecutionResult struct {
	Data       any            `json:"data"`
	Errors     []GraphQLError `json:"errors,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Failed builds a result carrying a single request-level error.
func Failed(err error) *ExecutionResult {
	return &ExecutionResult{Errors: []GraphQLError{newError(err, nil)}}
}
