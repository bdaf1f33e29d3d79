package executor

import (
	"context"

	"github.com/jensneuse/abstractlogger"

	"github.com/hanpama/graphload/internal/batch"
	"github.com/hanpama/graphload/internal/cache"
	"github.com/hanpama/graphload/internal/key"
	"github.com/hanpama/graphload/internal/query"
)

// Request is the per-request state handed to every resolver. It owns the
// scheduler and cache of one execution and is never shared.
type Request struct {
	ctx   context.Context
	reg   *query.Registry
	sched *batch.Scheduler
	cache *cache.Cache
	log   abstractlogger.Logger

	// Identity is whatever the caller authenticated as; the engine never
	// inspects it.
	Identity any
	Vars     map[string]any
}

func (rq *Request) Context() context.Context { return rq.ctx }
func (rq *Request) Registry() *query.Registry { return rq.reg }
func (rq *Request) Cache() *cache.Cache { return rq.cache }
func (rq *Request) Scheduler() *batch.Scheduler { return rq.sched }

// Load resolves to the single record bound to k, or nil when none is.
func (rq *Request) Load(k key.Key) Result {
	f := rq.cache.GetOrRegister(k)
	return Await(f, func() Result {
		rec, found, dup, err := f.One()
		if err != nil {
			return Error(err)
		}
		if !found {
			return Value(nil)
		}
		if dup {
			rq.log.Warn("executor.Request.Load",
				abstractlogger.String("key", k.String()),
				abstractlogger.String("message", "storage returned several records for a unique key; using the first"),
			)
		}
		return Value(rec)
	})
}

// LoadMany resolves to every record bound to k.
func (rq *Request) LoadMany(k key.Key) Result {
	f := rq.cache.GetOrRegister(k)
	return Await(f, func() Result {
		rows, err := f.All()
		if err != nil {
			return Error(err)
		}
		return Value(rows)
	})
}

// Query resolves to the records of one page of d.
func (rq *Request) Query(d query.Descriptor) Result {
	p := rq.cache.Page(d)
	return Await(p, func() Result {
		page, err := p.Result()
		if err != nil {
			return Error(err)
		}
		return Value(page.Records)
	})
}

// Connection resolves to a page of d shaped as {nodes, endCursor, hasMore}.
func (rq *Request) Connection(d query.Descriptor) Result {
	p := rq.cache.Page(d)
	return Await(p, func() Result {
		page, err := p.Result()
		if err != nil {
			return Error(err)
		}
		return Value(connection(page))
	})
}

func connection(p query.Page) query.Record {
	var end any
	if p.EndCursor != "" {
		end = p.EndCursor
	}
	return query.Record{"nodes": p.Records, "endCursor": end, "hasMore": p.HasMore}
}
