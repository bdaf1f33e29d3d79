package batch

import (
	"context"

	"github.com/hanpama/graphload/internal/fault"
	"github.com/hanpama/graphload/internal/key"
	"github.com/hanpama/graphload/internal/query"
)

// fetch is the pending fetch shared by every handle registered for one key.
// It is guarded by the scheduler mutex.
type fetch struct {
	key      key.Key
	waiters  []*Handle
	resolved bool
}

func (f *fetch) resolve(rows []query.Record, err error) {
	if f.resolved {
		return
	}
	f.resolved = true
	for _, h := range f.waiters {
		h.resolve(rows, err)
	}
	f.waiters = nil
}

type queryFetch struct {
	fp       string
	desc     query.Descriptor
	waiters  []*QueryHandle
	resolved bool
}

func (q *queryFetch) resolve(p query.Page, err error) {
	if q.resolved {
		return
	}
	q.resolved = true
	for _, h := range q.waiters {
		h.resolve(p, err)
	}
	q.waiters = nil
}

// Handle is one registration of a key. Its result is written once before
// Done is closed.
type Handle struct {
	key  key.Key
	done chan struct{}
	rows []query.Record
	err  error
}

func (h *Handle) resolve(rows []query.Record, err error) {
	h.rows, h.err = rows, err
	close(h.done)
}

func (h *Handle) Key() key.Key { return h.key }

// Done is closed once the handle is resolved.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Ready() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Result returns the records bound to the key; an empty result means not
// found. It must only be called after Done is closed.
func (h *Handle) Result() ([]query.Record, error) {
	if !h.Ready() {
		return nil, errUnresolved
	}
	return h.rows, h.err
}

// Wait blocks until the handle is resolved or ctx is done. It does not flush;
// some other goroutine must drive the scheduler.
func (h *Handle) Wait(ctx context.Context) ([]query.Record, error) {
	select {
	case <-h.done:
		return h.rows, h.err
	case <-ctx.Done():
		return nil, fault.Cancelled(ctx.Err())
	}
}

var errUnresolved = &fault.Error{Message: "result read before resolution"}

// QueryHandle is one submission of a collection query.
type QueryHandle struct {
	desc query.Descriptor
	done chan struct{}
	page query.Page
	err  error
}

func (h *QueryHandle) resolve(p query.Page, err error) {
	h.page, h.err = p, err
	close(h.done)
}

func (h *QueryHandle) Descriptor() query.Descriptor { return h.desc }

func (h *QueryHandle) Done() <-chan struct{} { return h.done }

func (h *QueryHandle) Ready() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *QueryHandle) Result() (query.Page, error) {
	if !h.Ready() {
		return query.Page{}, errUnresolved
	}
	return h.page, h.err
}

func (h *QueryHandle) Wait(ctx context.Context) (query.Page, error) {
	select {
	case <-h.done:
		return h.page, h.err
	case <-ctx.Done():
		return query.Page{}, fault.Cancelled(ctx.Err())
	}
}
