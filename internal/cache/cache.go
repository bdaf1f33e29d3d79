// Package cache memoizes key and page results for the lifetime of one
// request. Results are never shared across requests and never invalidated.
package cache

import (
	"context"
	"sync"

	"github.com/hanpama/graphload/internal/batch"
	"github.com/hanpama/graphload/internal/key"
	"github.com/hanpama/graphload/internal/query"
)

type Stats struct {
	Hits   int `json:"hits"`
	Misses int `json:"misses"`
}

// Cache sits in front of a request's scheduler. A key is registered with
// the scheduler at most once; the outcome, error or not, is kept.
type Cache struct {
	sched *batch.Scheduler

	mu    sync.Mutex
	keys  map[key.ID]*Future
	pages map[string]*PageFuture
	stats Stats
}

func New(sched *batch.Scheduler) *Cache {
	return &Cache{
		sched: sched,
		keys:  make(map[key.ID]*Future),
		pages: make(map[string]*PageFuture),
	}
}

// GetOrRegister returns the future for k, registering a fetch on first use.
// A future for a key already resolved is returned ready.
func (c *Cache) GetOrRegister(k key.Key) *Future {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.keys[k.ID()]; ok {
		c.stats.Hits++
		return f
	}
	c.stats.Misses++
	f := &Future{h: c.sched.Register(k)}
	c.keys[k.ID()] = f
	return f
}

// Page returns the future page for d. Equal descriptors share one fetch.
// Once a page resolves, its records are stored under their primary keys.
func (c *Cache) Page(d query.Descriptor) *PageFuture {
	fp := d.Fingerprint()
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pages[fp]; ok {
		c.stats.Hits++
		return p
	}
	c.stats.Misses++
	p := &PageFuture{h: c.sched.Submit(d), c: c}
	c.pages[fp] = p
	return p
}

// prime stores each record of a resolved page under its primary key unless
// the key already has a future.
func (c *Cache) prime(d query.Descriptor, recs []query.Record) {
	et := d.EntityType()
	if et == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range recs {
		k, ok := key.FromRecord(et.Name, []string{et.PrimaryKey}, r)
		if !ok {
			continue
		}
		if _, seen := c.keys[k.ID()]; seen {
			continue
		}
		c.keys[k.ID()] = resolved([]query.Record{r})
	}
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Len reports the number of memoized keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

// Future is the memoized result of one key.
type Future struct {
	h    *batch.Handle
	rows []query.Record
}

func resolved(rows []query.Record) *Future { return &Future{rows: rows} }

var closed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (f *Future) Done() <-chan struct{} {
	if f.h == nil {
		return closed
	}
	return f.h.Done()
}

func (f *Future) Ready() bool { return f.h == nil || f.h.Ready() }

// All returns every record bound to the key.
func (f *Future) All() ([]query.Record, error) {
	if f.h == nil {
		return f.rows, nil
	}
	return f.h.Result()
}

// One returns the first record bound to the key. found is false when no
// record matched. dup reports that storage returned more than one.
func (f *Future) One() (rec query.Record, found, dup bool, err error) {
	rows, err := f.All()
	if err != nil || len(rows) == 0 {
		return nil, false, false, err
	}
	return rows[0], true, len(rows) > 1, nil
}

func (f *Future) Wait(ctx context.Context) ([]query.Record, error) {
	if f.h == nil {
		return f.rows, nil
	}
	return f.h.Wait(ctx)
}

// PageFuture is the memoized result of one collection query.
type PageFuture struct {
	h     *batch.QueryHandle
	c     *Cache
	prime sync.Once
}

func (p *PageFuture) Done() <-chan struct{} { return p.h.Done() }

func (p *PageFuture) Ready() bool { return p.h.Ready() }

func (p *PageFuture) Result() (query.Page, error) {
	pg, err := p.h.Result()
	if err == nil {
		p.prime.Do(func() { p.c.prime(p.h.Descriptor(), pg.Records) })
	}
	return pg, err
}

func (p *PageFuture) Wait(ctx context.Context) (query.Page, error) {
	pg, err := p.h.Wait(ctx)
	if err == nil {
		p.prime.Do(func() { p.c.prime(p.h.Descriptor(), pg.Records) })
	}
	return pg, err
}
