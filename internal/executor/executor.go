package executor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/jensneuse/abstractlogger"
	"golang.org/x/sync/errgroup"

	"github.com/hanpama/graphload/internal/batch"
	"github.com/hanpama/graphload/internal/cache"
	"github.com/hanpama/graphload/internal/eventbus"
	"github.com/hanpama/graphload/internal/events"
	"github.com/hanpama/graphload/internal/fault"
	"github.com/hanpama/graphload/internal/guard"
	"github.com/hanpama/graphload/internal/query"
)

const DefaultMaxTicks = 64

type Option func(*Executor)

// WithParallelism bounds the resolvers running at once within a wave.
// Values below 2 run resolvers on the calling goroutine.
func WithParallelism(n int) Option { return func(e *Executor) { e.parallelism = n } }

// WithMaxTicks bounds the flush rounds of one execution.
func WithMaxTicks(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxTicks = n
		}
	}
}

func WithLimits(l guard.Limits) Option { return func(e *Executor) { e.limits = l } }

func WithLogger(l abstractlogger.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// WithBatchOptions configures the scheduler created for every execution.
func WithBatchOptions(opts ...batch.Option) Option {
	return func(e *Executor) { e.batchOpts = append(e.batchOpts, opts...) }
}

// Executor runs operations against a schema. It is safe for concurrent use;
// every execution gets its own scheduler and cache.
type Executor struct {
	schema      *Schema
	reg         *query.Registry
	limits      guard.Limits
	parallelism int
	maxTicks    int
	log         abstractlogger.Logger
	batchOpts   []batch.Option
}

func New(schema *Schema, reg *query.Registry, opts ...Option) *Executor {
	e := &Executor{
		schema:   schema,
		reg:      reg,
		maxTicks: DefaultMaxTicks,
		log:      abstractlogger.NoopLogger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Executor) Schema() *Schema { return e.schema }

func (e *Executor) Registry() *query.Registry { return e.reg }

func (e *Executor) Limits() guard.Limits { return e.limits }

// Stats describes one execution.
type Stats struct {
	Ticks     int         `json:"ticks"`
	Cost      int         `json:"cost"`
	Depth     int         `json:"depth"`
	Scheduler batch.Stats `json:"scheduler"`
	Cache     cache.Stats `json:"cache"`
}

// Execute checks op against the complexity limits and, when accepted,
// resolves it tick by tick. Field errors are reported at their path and null
// the field; sibling fields complete.
func (e *Executor) Execute(ctx context.Context, op *Operation, identity any) *ExecutionResult {
	start := time.Now()
	eventbus.Publish(ctx, events.ExecutionStart{Query: op.Source, OperationName: op.Name})

	res, ticks := e.execute(ctx, op, identity)

	errs := make([]error, len(res.Errors))
	for i, ge := range res.Errors {
		errs[i] = ge
	}
	d := time.Since(start)
	e.log.Debug("executor.Executor.Execute",
		abstractlogger.String("operation", op.Name),
		abstractlogger.Int("ticks", ticks),
		abstractlogger.Int("errors", len(res.Errors)),
		abstractlogger.String("duration", d.String()),
	)
	eventbus.Publish(ctx, events.ExecutionFinish{Query: op.Source, OperationName: op.Name, Errors: errs, Ticks: ticks, Duration: d})
	return res
}

func (e *Executor) execute(ctx context.Context, op *Operation, identity any) (*ExecutionResult, int) {
	rep, err := e.CheckComplexity(op)
	if err != nil {
		return Failed(err), 0
	}

	sched := batch.New(e.reg, append([]batch.Option{batch.WithLogger(e.log)}, e.batchOpts...)...)
	st := &state{
		e: e,
		rq: &Request{
			ctx:      ctx,
			reg:      e.reg,
			sched:    sched,
			cache:    cache.New(sched),
			log:      e.log,
			Identity: identity,
			Vars:     op.Vars,
		},
	}
	data := make(map[string]any, len(op.Selections))
	tasks := st.expand(e.schema.Types[e.schema.Query], op.Selections, nil, Path{}, data)
	ticks := st.run(ctx, tasks)

	stats := Stats{
		Ticks:     ticks,
		Cost:      rep.Cost,
		Depth:     rep.Depth,
		Scheduler: sched.Stats(),
		Cache:     st.rq.cache.Stats(),
	}
	return &ExecutionResult{Data: data, Errors: st.errors, Extensions: map[string]any{"stats": stats}}, ticks
}

// state is the mutable part of one execution. Completion runs on a single
// goroutine; only resolver calls fan out.
type state struct {
	e      *Executor
	rq     *Request
	errors []GraphQLError
}

// task is one field instance waiting for its resolver or continuation.
type task struct {
	path  Path
	field *Field
	sel   *Selection
	set   func(any)
	run   func() Result
}

type suspended struct {
	t *task
	r Result
}

var errStalled = errors.New("resolver awaits a future that no flush can resolve")

// run drives the tick loop: run every runnable resolver to its next
// suspension point, flush one round, resume whatever became ready, repeat.
func (st *state) run(ctx context.Context, runnable []*task) int {
	var waiting []suspended
	ticks := 0
	for {
		for len(runnable) > 0 {
			results := st.call(runnable)
			var next []*task
			for i, r := range results {
				if r.pending() {
					waiting = append(waiting, suspended{t: runnable[i], r: r})
					continue
				}
				next = append(next, st.complete(runnable[i], r)...)
			}
			runnable = next
		}
		if len(waiting) == 0 {
			return ticks
		}
		if ticks >= st.e.maxTicks {
			err := fault.TooExpensive("execution exceeded %d ticks", st.e.maxTicks)
			st.rq.sched.Cancel(err)
			for _, w := range waiting {
				st.fail(w.t, err)
			}
			return ticks
		}

		st.rq.sched.Flush(ctx)
		ticks++

		var still []suspended
		for _, w := range waiting {
			if !w.r.on.Ready() {
				still = append(still, w)
				continue
			}
			resumed := *w.t
			resumed.run = w.r.next
			runnable = append(runnable, &resumed)
		}
		waiting = still
		if len(runnable) == 0 && st.rq.sched.Pending() == 0 {
			for _, w := range waiting {
				st.fail(w.t, errStalled)
			}
			return ticks
		}
	}
}

// call runs the resolvers of one wave, in parallel when configured.
func (st *state) call(tasks []*task) []Result {
	results := make([]Result, len(tasks))
	if st.e.parallelism < 2 || len(tasks) < 2 {
		for i, t := range tasks {
			results[i] = invoke(t)
		}
		return results
	}
	var g errgroup.Group
	g.SetLimit(st.e.parallelism)
	for i, t := range tasks {
		g.Go(func() error {
			results[i] = invoke(t)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func invoke(t *task) (r Result) {
	defer func() {
		if p := recover(); p != nil {
			r = Error(fmt.Errorf("resolver for %s panicked: %v", pathToString(t.path), p))
		}
	}()
	return t.run()
}

func (st *state) fail(t *task, err error) {
	st.errors = append(st.errors, newError(err, t.path))
	t.set(nil)
}

func (st *state) complete(t *task, r Result) []*task {
	if r.err != nil {
		st.fail(t, r.err)
		return nil
	}
	return st.completeValue(t, r.val)
}

func (st *state) completeValue(t *task, v any) []*task {
	f := t.field
	// a typed nil slice is an empty list, not a null
	if v == nil || (isNullish(v) && !(f.List && reflect.TypeOf(v).Kind() == reflect.Slice)) {
		t.set(nil)
		return nil
	}
	if f.Type == "" {
		t.set(v)
		return nil
	}
	if !f.List {
		return st.completeObject(t, f.Type, v, t.path, t.set)
	}
	items, ok := toItems(v)
	if !ok {
		st.fail(t, fmt.Errorf("expected list value, got %T", v))
		return nil
	}
	out := make([]any, len(items))
	t.set(out)
	var tasks []*task
	for i, item := range items {
		if isNullish(item) {
			continue
		}
		tasks = append(tasks, st.completeObject(t, f.Type, item, appendPath(t.path, i), func(x any) { out[i] = x })...)
	}
	return tasks
}

func (st *state) completeObject(t *task, typeName string, v any, path Path, set func(any)) []*task {
	rec, ok := toRecord(v)
	if !ok {
		st.errors = append(st.errors, newError(fmt.Errorf("expected object value for %s, got %T", typeName, v), path))
		set(nil)
		return nil
	}
	m := make(map[string]any, len(t.sel.Children))
	set(m)
	return st.expand(st.e.schema.Types[typeName], t.sel.Children, rec, path, m)
}

// expand creates the tasks for the selections on obj. Projections complete
// immediately; resolved fields become tasks for the current wave.
func (st *state) expand(obj *Object, sels []*Selection, parent query.Record, path Path, m map[string]any) []*task {
	var tasks []*task
	for _, s := range sels {
		if s.On != "" && s.On != obj.Name {
			continue
		}
		name := s.ResponseName()
		if s.Name == "__typename" {
			m[name] = obj.Name
			continue
		}
		f := obj.Fields[s.Name]
		t := &task{
			path:  appendPath(path, name),
			field: f,
			sel:   s,
			set:   func(v any) { m[name] = v },
		}
		m[name] = nil
		if f.Resolve == nil {
			tasks = append(tasks, st.completeValue(t, parent[s.Name])...)
			continue
		}
		resolve, rq, args := f.Resolve, st.rq, s.Args
		t.run = func() Result { return resolve(rq, parent, args) }
		tasks = append(tasks, t)
	}
	return tasks
}

func toItems(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []query.Record:
		out := make([]any, len(x))
		for i, r := range x {
			out[i] = r
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toRecord(v any) (query.Record, bool) {
	switch x := v.(type) {
	case query.Record:
		return x, true
	case map[string]any:
		return x, true
	}
	return nil, false
}

func pathToString(path Path) string {
	result := ""
	for i, elem := range path {
		switch v := elem.(type) {
		case string:
			if i > 0 {
				result += "."
			}
			result += v
		case int:
			result += fmt.Sprintf("[%d]", v)
		}
	}
	return result
}

func appendPath(path Path, elem PathElement) Path {
	newPath := make(Path, len(path)+1)
	copy(newPath, path)
	newPath[len(path)] = elem
	return newPath
}

// isNullish returns true for nil interfaces and typed nils (map, slice, ptr, interface)
func isNullish(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
