// Package batch coalesces the fetches registered during one tick into one
// storage call per entity type.
//
// Resolvers register keys and suspend on the returned handles. At the end of
// the tick the executor calls Flush: for each entity type with pending keys
// the scheduler merges the bind values into a single membership descriptor,
// calls the entity fetch function once, partitions the rows back to their
// keys and resolves every handle. A failed call fails the whole batch.
package batch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jensneuse/abstractlogger"
	"golang.org/x/sync/errgroup"

	"github.com/hanpama/graphload/internal/eventbus"
	"github.com/hanpama/graphload/internal/events"
	"github.com/hanpama/graphload/internal/fault"
	"github.com/hanpama/graphload/internal/key"
	"github.com/hanpama/graphload/internal/query"
)

const DefaultMaxBatchKeys = 1000

type Option func(*Scheduler)

// WithMaxBatchKeys bounds the keys merged into one storage call. Keys beyond
// the bound roll over to the next tick.
func WithMaxBatchKeys(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxKeys = n
		}
	}
}

// WithConcurrency bounds the storage calls running at once within a flush.
// Zero or negative means unbounded.
func WithConcurrency(n int) Option { return func(s *Scheduler) { s.concurrency = n } }

func WithLogger(l abstractlogger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// Stats counts scheduler activity over its lifetime.
type Stats struct {
	Ticks         int `json:"ticks"`
	StorageCalls  int `json:"storageCalls"`
	Registrations int `json:"registrations"`
	DedupHits     int `json:"dedupHits"`
	Queries       int `json:"queries"`
}

// Scheduler is request scoped; it must not be shared across requests.
type Scheduler struct {
	reg         *query.Registry
	maxKeys     int
	concurrency int
	log         abstractlogger.Logger

	mu       sync.Mutex
	pending  map[key.ID]*fetch
	queue    map[string][]*fetch
	queries  map[string]*queryFetch
	qqueue   []*queryFetch
	stats    Stats
	canceled error
}

func New(reg *query.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		reg:     reg,
		maxKeys: DefaultMaxBatchKeys,
		log:     abstractlogger.NoopLogger,
		pending: make(map[key.ID]*fetch),
		queue:   make(map[string][]*fetch),
		queries: make(map[string]*queryFetch),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register returns a handle resolving to the records bound to k. Equal keys
// registered while a fetch is unresolved share that fetch.
func (s *Scheduler) Register(k key.Key) *Handle {
	h := &Handle{key: k, done: make(chan struct{})}
	if err := s.validate(k); err != nil {
		h.resolve(nil, err)
		return h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Registrations++
	if s.canceled != nil {
		h.resolve(nil, fault.Cancelled(s.canceled))
		return h
	}
	if f, ok := s.pending[k.ID()]; ok {
		s.stats.DedupHits++
		f.waiters = append(f.waiters, h)
		return h
	}
	f := &fetch{key: k, waiters: []*Handle{h}}
	s.pending[k.ID()] = f
	s.queue[k.Entity()] = append(s.queue[k.Entity()], f)
	return h
}

func (s *Scheduler) validate(k key.Key) error {
	if k.IsZero() {
		return fault.InvalidQuery("", "zero key")
	}
	et, ok := s.reg.Entity(k.Entity())
	if !ok {
		return fault.InvalidQuery(k.Entity(), "unknown entity type")
	}
	for _, f := range k.Fields() {
		if !et.CanFilter(f) {
			return fault.InvalidQuery(k.Entity(), "field %q is not filterable", f)
		}
	}
	return nil
}

// Submit queues a collection query for the next flush. Identical descriptors
// submitted while unresolved share one storage call.
func (s *Scheduler) Submit(d query.Descriptor) *QueryHandle {
	h := &QueryHandle{desc: d, done: make(chan struct{})}
	if d.EntityType() == nil {
		h.resolve(query.Page{}, fault.InvalidQuery("", "descriptor not created by a registry"))
		return h
	}
	fp := d.Fingerprint()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled != nil {
		h.resolve(query.Page{}, fault.Cancelled(s.canceled))
		return h
	}
	if q, ok := s.queries[fp]; ok {
		s.stats.DedupHits++
		q.waiters = append(q.waiters, h)
		return h
	}
	q := &queryFetch{fp: fp, desc: d, waiters: []*QueryHandle{h}}
	s.queries[fp] = q
	s.qqueue = append(s.qqueue, q)
	return h
}

// Pending reports the number of keys and queries waiting for a flush.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.qqueue)
	for _, q := range s.queue {
		n += len(q)
	}
	return n
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

type batchJob struct {
	entity string
	et     *query.EntityType
	fields []string
	items  []*fetch
}

// take removes the work for one tick from the queues. Each entity type
// contributes one batch of a single bind shape; other shapes and keys beyond
// maxKeys stay queued in order.
func (s *Scheduler) take() ([]batchJob, []*queryFetch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entities := make([]string, 0, len(s.queue))
	for e := range s.queue {
		entities = append(entities, e)
	}
	sort.Strings(entities)

	var jobs []batchJob
	for _, e := range entities {
		q := s.queue[e]
		shape := q[0].key.Shape()
		var items, rest []*fetch
		for _, f := range q {
			if len(items) < s.maxKeys && f.key.Shape() == shape {
				items = append(items, f)
			} else {
				rest = append(rest, f)
			}
		}
		if len(rest) == 0 {
			delete(s.queue, e)
		} else {
			s.queue[e] = rest
		}
		et, _ := s.reg.Entity(e)
		jobs = append(jobs, batchJob{entity: e, et: et, fields: items[0].key.Fields(), items: items})
	}
	queries := s.qqueue
	s.qqueue = nil
	if len(jobs) > 0 || len(queries) > 0 {
		s.stats.Ticks++
		s.stats.StorageCalls += len(jobs) + len(queries)
		s.stats.Queries += len(queries)
	}
	return jobs, queries
}

// Flush drains one tick: every queued batch and query is sent to storage,
// concurrently across entity types, and resolved before Flush returns. It
// returns the number of storage calls made. A cancelled ctx cancels all
// pending work instead.
func (s *Scheduler) Flush(ctx context.Context) int {
	if err := ctx.Err(); err != nil {
		s.Cancel(err)
		return 0
	}
	jobs, queries := s.take()
	calls := len(jobs) + len(queries)
	if calls == 0 {
		return 0
	}
	tick := s.Stats().Ticks
	start := time.Now()
	eventbus.Publish(ctx, events.FlushStart{Tick: tick, Batches: len(jobs), Queries: len(queries)})

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed int
	)
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}
	fail := func(err error) {
		if err != nil {
			mu.Lock()
			failed++
			mu.Unlock()
		}
	}
	for _, j := range jobs {
		g.Go(func() error {
			fail(s.runBatch(ctx, tick, j))
			return nil
		})
	}
	for _, q := range queries {
		g.Go(func() error {
			fail(s.runQuery(ctx, tick, q))
			return nil
		})
	}
	_ = g.Wait()

	d := time.Since(start)
	s.log.Debug("batch.Scheduler.Flush",
		abstractlogger.Int("tick", tick),
		abstractlogger.Int("calls", calls),
		abstractlogger.Int("failed", failed),
		abstractlogger.String("duration", d.String()),
	)
	eventbus.Publish(ctx, events.FlushFinish{Tick: tick, Calls: calls, Failed: failed, Duration: d})
	return calls
}

func (s *Scheduler) runBatch(ctx context.Context, tick int, j batchJob) error {
	tuples := make([][]any, len(j.items))
	for i, f := range j.items {
		t := make([]any, len(j.fields))
		for n, field := range j.fields {
			t[n], _ = f.key.Value(field)
		}
		tuples[i] = t
	}

	start := time.Now()
	eventbus.Publish(ctx, events.FetchStart{Tick: tick, Entity: j.entity, Keys: len(j.items)})
	rows, err := s.fetchBatch(ctx, j, tuples)
	eventbus.Publish(ctx, events.FetchFinish{
		Tick: tick, Entity: j.entity, Keys: len(j.items), Rows: len(rows), Err: err, Duration: time.Since(start),
	})

	if err != nil {
		s.log.Warn("batch.Scheduler.runBatch",
			abstractlogger.String("entity", j.entity),
			abstractlogger.Int("keys", len(j.items)),
			abstractlogger.Error(err),
		)
		s.resolveBatch(j.items, nil, err)
		return err
	}

	parts := make(map[key.ID][]query.Record, len(j.items))
	for _, r := range rows {
		k, ok := key.FromRecord(j.entity, j.fields, r)
		if !ok {
			continue
		}
		parts[k.ID()] = append(parts[k.ID()], r)
	}
	s.resolveBatch(j.items, parts, nil)
	return nil
}

func (s *Scheduler) fetchBatch(ctx context.Context, j batchJob, tuples [][]any) ([]query.Record, error) {
	d, err := s.reg.BatchQuery(j.entity, j.fields, tuples)
	if err != nil {
		return nil, err
	}
	rows, err := j.et.Fetch(ctx, d)
	if err != nil {
		return nil, storageError(j.entity, err)
	}
	if len(rows) >= d.Limit() {
		return nil, fault.FetchFailed(j.entity, errTruncated)
	}
	return rows, nil
}

var errTruncated = errors.New("batch result reached the row limit and may be truncated")

func storageError(entity string, err error) error {
	switch fault.KindOf(err) {
	case fault.KindFetchFailed, fault.KindCancelled:
		return err
	}
	if fault.IsContextError(err) {
		return fault.Cancelled(err)
	}
	return fault.FetchFailed(entity, err)
}

func (s *Scheduler) runQuery(ctx context.Context, tick int, q *queryFetch) error {
	entity := q.desc.Entity()
	start := time.Now()
	eventbus.Publish(ctx, events.FetchStart{Tick: tick, Entity: entity})
	rows, err := q.desc.EntityType().Fetch(ctx, q.desc)
	if err != nil {
		err = storageError(entity, err)
	}
	eventbus.Publish(ctx, events.FetchFinish{Tick: tick, Entity: entity, Rows: len(rows), Err: err, Duration: time.Since(start)})

	var page query.Page
	if err == nil {
		page, err = q.desc.Page(rows)
	}
	if err != nil {
		s.log.Warn("batch.Scheduler.runQuery",
			abstractlogger.String("query", q.desc.String()),
			abstractlogger.Error(err),
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queries[q.fp] == q {
		delete(s.queries, q.fp)
	}
	q.resolve(page, err)
	return err
}

func (s *Scheduler) resolveBatch(items []*fetch, parts map[key.ID][]query.Record, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range items {
		if s.pending[f.key.ID()] == f {
			delete(s.pending, f.key.ID())
		}
		f.resolve(parts[f.key.ID()], err)
	}
}

// Cancel resolves every unresolved fetch and query with fault.ErrCancelled,
// including those whose storage call is in flight. Later registrations
// resolve as cancelled immediately.
func (s *Scheduler) Cancel(cause error) {
	if cause == nil {
		cause = context.Canceled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled == nil {
		s.canceled = cause
	}
	err := fault.Cancelled(cause)
	for id, f := range s.pending {
		f.resolve(nil, err)
		delete(s.pending, id)
	}
	for fp, q := range s.queries {
		q.resolve(query.Page{}, err)
		delete(s.queries, fp)
	}
	s.queue = make(map[string][]*fetch)
	s.qqueue = nil
}
