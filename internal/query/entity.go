package query

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hanpama/graphload/internal/cursor"
	"github.com/hanpama/graphload/internal/fault"
)

// Record is one row returned by storage. Records are owned by whoever holds
// them after a fetch and must not be mutated in place; use With to derive.
type Record map[string]any

// With returns a copy of r with field set to v.
func (r Record) With(field string, v any) Record {
	out := make(Record, len(r)+1)
	for k, x := range r {
		out[k] = x
	}
	out[field] = v
	return out
}

// FetchFunc is the storage collaborator: it returns the records matching d,
// in d's effective sort order.
type FetchFunc func(ctx context.Context, d Descriptor) ([]Record, error)

// Store is implemented by storage collaborators serving several entity types.
type Store interface {
	Fetch(ctx context.Context, d Descriptor) ([]Record, error)
}

// EntityType describes one fetchable collection.
type EntityType struct {
	Name       string
	PrimaryKey string
	// Filterable and Sortable are the allow-lists for composition. The
	// primary key is always both.
	Filterable []string
	Sortable   []string
	Fetch      FetchFunc

	filterable map[string]struct{}
	sortable   map[string]struct{}
}

func (e *EntityType) CanFilter(field string) bool {
	_, ok := e.filterable[field]
	return ok
}

func (e *EntityType) CanSort(field string) bool {
	_, ok := e.sortable[field]
	return ok
}

// Limits bound the size of a single storage call.
type Limits struct {
	// MaxPageSize is the upper clamp for client-requested limits.
	MaxPageSize int
	// DefaultPageSize applies when no limit is requested.
	DefaultPageSize int
	// MaxBatchRows is the limit of a merged batch descriptor.
	MaxBatchRows int
}

// DefaultLimits are used by NewRegistry unless overridden.
var DefaultLimits = Limits{MaxPageSize: 100, DefaultPageSize: 20, MaxBatchRows: 10000}

type Option func(*Registry)

func WithLimits(l Limits) Option { return func(r *Registry) { r.limits = l } }

// WithCodec sets the codec used to sign and verify cursors.
func WithCodec(c *cursor.Codec) Option { return func(r *Registry) { r.codec = c } }

// Registry holds the entity types known to the engine. Types are registered
// once at startup and never change afterwards.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*EntityType
	limits   Limits
	codec    *cursor.Codec
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{entities: make(map[string]*EntityType), limits: DefaultLimits}
	for _, o := range opts {
		o(r)
	}
	if r.limits.MaxPageSize <= 0 {
		r.limits.MaxPageSize = DefaultLimits.MaxPageSize
	}
	if r.limits.DefaultPageSize <= 0 || r.limits.DefaultPageSize > r.limits.MaxPageSize {
		r.limits.DefaultPageSize = min(DefaultLimits.DefaultPageSize, r.limits.MaxPageSize)
	}
	if r.limits.MaxBatchRows <= 0 {
		r.limits.MaxBatchRows = DefaultLimits.MaxBatchRows
	}
	return r
}

func (r *Registry) Limits() Limits { return r.limits }

// Register adds an entity type. The registry keeps its own copy.
func (r *Registry) Register(et EntityType) error {
	if et.Name == "" {
		return fmt.Errorf("query: entity type without name")
	}
	if et.PrimaryKey == "" {
		return fmt.Errorf("query: entity type %s without primary key", et.Name)
	}
	if et.Fetch == nil {
		return fmt.Errorf("query: entity type %s without fetch function", et.Name)
	}
	cp := et
	cp.Filterable = withField(et.Filterable, et.PrimaryKey)
	cp.Sortable = withField(et.Sortable, et.PrimaryKey)
	cp.filterable = toSet(cp.Filterable)
	cp.sortable = toSet(cp.Sortable)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entities[et.Name]; dup {
		return fmt.Errorf("query: entity type %s already registered", et.Name)
	}
	r.entities[et.Name] = &cp
	return nil
}

// Entity returns the registered entity type by name.
func (r *Registry) Entity(name string) (*EntityType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	et, ok := r.entities[name]
	return et, ok
}

// Names lists registered entity types in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entities))
	for n := range r.entities {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Query returns the base descriptor for entity: no filters, primary-key
// order, default page size.
func (r *Registry) Query(entity string) (Descriptor, error) {
	et, ok := r.Entity(entity)
	if !ok {
		return Descriptor{}, fault.InvalidQuery(entity, "unknown entity type")
	}
	return Descriptor{reg: r, et: et, limit: r.limits.DefaultPageSize}, nil
}

// BatchQuery builds the merged descriptor for a batch of keys sharing the
// bind fields. tuples[i][j] is the value of fields[j] for the i-th key. The
// descriptor carries one membership filter per field and MaxBatchRows as
// its limit.
func (r *Registry) BatchQuery(entity string, fields []string, tuples [][]any) (Descriptor, error) {
	d, err := r.Query(entity)
	if err != nil {
		return Descriptor{}, err
	}
	for j, f := range fields {
		values := make([]any, 0, len(tuples))
		seen := make(map[string]struct{}, len(tuples))
		for _, t := range tuples {
			if j >= len(t) {
				return Descriptor{}, fault.InvalidQuery(entity, "batch tuple shorter than bind fields")
			}
			c := canonical(t[j])
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			values = append(values, t[j])
		}
		if d, err = d.WithFilter(f, OpIn, values); err != nil {
			return Descriptor{}, err
		}
	}
	d.batch = true
	d.limit = r.limits.MaxBatchRows
	return d, nil
}

func withField(list []string, f string) []string {
	out := make([]string, 0, len(list)+1)
	out = append(out, list...)
	for _, x := range list {
		if x == f {
			return out
		}
	}
	return append(out, f)
}

func toSet(list []string) map[string]struct{} {
	m := make(map[string]struct{}, len(list))
	for _, x := range list {
		m[x] = struct{}{}
	}
	return m
}
