// Package memstore is an in-memory storage collaborator. It evaluates
// descriptors the way a relational store would: filter, order by the
// effective sort, seek past the keyset position, then offset and limit.
package memstore

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hanpama/graphload/internal/query"
)

// Store holds one table of records per entity type.
type Store struct {
	mu     sync.RWMutex
	tables map[string][]query.Record
	calls  map[string]int
	fail   map[string]error
	delay  time.Duration
}

func New() *Store {
	return &Store{
		tables: make(map[string][]query.Record),
		calls:  make(map[string]int),
		fail:   make(map[string]error),
	}
}

// Insert appends records to entity's table.
func (s *Store) Insert(entity string, recs ...query.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.tables[entity] = append(s.tables[entity], copyRecord(r))
	}
}

// Len reports the number of records of entity.
func (s *Store) Len(entity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[entity])
}

// Fail makes every following fetch of entity return err until cleared with
// a nil err.
func (s *Store) Fail(entity string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, entity)
		return
	}
	s.fail[entity] = err
}

// SetDelay makes every fetch wait d, or until its context is done.
func (s *Store) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// Calls reports the number of fetches served for entity.
func (s *Store) Calls(entity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[entity]
}

func (s *Store) TotalCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *Store) ResetCalls() {
	s.mu.Lock()
	s.calls = make(map[string]int)
	s.mu.Unlock()
}

// Fetch implements query.Store.
func (s *Store) Fetch(ctx context.Context, d query.Descriptor) ([]query.Record, error) {
	entity := d.Entity()
	s.mu.Lock()
	s.calls[entity]++
	injected, delay := s.fail[entity], s.delay
	rows := append([]query.Record(nil), s.tables[entity]...)
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if injected != nil {
		return nil, injected
	}
	return Evaluate(d.Spec(), rows)
}

// Evaluate applies s to rows and returns copies of the selected records.
func Evaluate(s query.Spec, rows []query.Record) ([]query.Record, error) {
	var out []query.Record
	for _, r := range rows {
		ok, err := match(r, s.Filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return order(out[i], out[j], s.Sort) < 0 })

	if len(s.After) > 0 {
		if len(s.After) != len(s.Sort) {
			return nil, fmt.Errorf("memstore: position has %d values for %d sort keys", len(s.After), len(s.Sort))
		}
		i := sort.Search(len(out), func(i int) bool { return afterPosition(out[i], s.After, s.Sort) })
		out = out[i:]
	}
	if s.Offset > 0 {
		if s.Offset >= len(out) {
			out = nil
		} else {
			out = out[s.Offset:]
		}
	}
	if s.Limit > 0 && len(out) > s.Limit {
		out = out[:s.Limit]
	}
	res := make([]query.Record, len(out))
	for i, r := range out {
		res[i] = copyRecord(r)
	}
	return res, nil
}

func match(r query.Record, fs []query.Filter) (bool, error) {
	for _, f := range fs {
		v := r[f.Field]
		switch f.Op {
		case query.OpIn:
			list, ok := f.Value.([]any)
			if !ok {
				return false, fmt.Errorf("memstore: in filter on %s without list", f.Field)
			}
			found := false
			for _, x := range list {
				if Compare(v, x) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		default:
			c := Compare(v, f.Value)
			var ok bool
			switch f.Op {
			case query.OpEq:
				ok = c == 0
			case query.OpNe:
				ok = c != 0
			case query.OpLt:
				ok = c < 0
			case query.OpLte:
				ok = c <= 0
			case query.OpGt:
				ok = c > 0
			case query.OpGte:
				ok = c >= 0
			default:
				return false, fmt.Errorf("memstore: unknown operator %q", f.Op)
			}
			if !ok {
				return false, nil
			}
		}
	}
	return true, nil
}

func order(a, b query.Record, sorts []query.Sort) int {
	for _, s := range sorts {
		c := Compare(a[s.Field], b[s.Field])
		if s.Direction == query.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// afterPosition reports whether r sorts strictly after the tuple pos.
func afterPosition(r query.Record, pos []any, sorts []query.Sort) bool {
	for i, s := range sorts {
		c := Compare(r[s.Field], pos[i])
		if s.Direction == query.Desc {
			c = -c
		}
		if c != 0 {
			return c > 0
		}
	}
	return false
}

// Compare orders two scalar values. Numbers compare exactly by value
// regardless of their Go type, times compare with their RFC 3339 rendering,
// nil sorts first, and values of unrelated kinds order by kind name.
func Compare(a, b any) int {
	a, b = normalize(a), normalize(b)
	if c, ok := compareNumbers(a, b); ok {
		return c
	}
	switch x := a.(type) {
	case nil:
		if b == nil {
			return 0
		}
		return -1
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	}
	if b == nil {
		return 1
	}
	return strings.Compare(kindName(a), kindName(b))
}

func kindName(v any) string { return reflect.TypeOf(v).Kind().String() }

// compareNumbers orders two normalized numbers. Integers never round
// through float64.
func compareNumbers(a, b any) (int, bool) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, y), true
		case uint64:
			if x < 0 {
				return -1, true
			}
			return cmp.Compare(uint64(x), y), true
		}
	case uint64:
		switch y := b.(type) {
		case uint64:
			return cmp.Compare(x, y), true
		case int64:
			if y < 0 {
				return 1, true
			}
			return cmp.Compare(x, uint64(y)), true
		}
	}
	fa, ok := exact(a)
	if !ok {
		return 0, false
	}
	fb, ok := exact(b)
	if !ok {
		return 0, false
	}
	return fa.Cmp(fb), true
}

func exact(v any) (*big.Float, bool) {
	switch x := v.(type) {
	case int64:
		return new(big.Float).SetInt64(x), true
	case uint64:
		return new(big.Float).SetUint64(x), true
	case float64:
		return new(big.Float).SetFloat64(x), true
	}
	return nil, false
}

func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) {
			return nil
		}
		return f
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return v
}

func copyRecord(r query.Record) query.Record {
	out := make(query.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
