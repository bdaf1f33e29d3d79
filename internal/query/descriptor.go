package query

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/hanpama/graphload/internal/cursor"
	"github.com/hanpama/graphload/internal/fault"
	"github.com/hanpama/graphload/internal/key"
)

// Op is a filter operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpIn  Op = "in"
)

func (o Op) Valid() bool {
	switch o {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpIn:
		return true
	}
	return false
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

type Filter struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	// Value is a scalar, or a []any for OpIn.
	Value any `json:"value"`
}

type Sort struct {
	Field     string    `json:"field"`
	Direction Direction `json:"dir"`
}

// Descriptor is an immutable description of a filtered, sorted and paginated
// collection request. Every With method returns a new descriptor and leaves
// the receiver untouched, so a base descriptor can be shared across branches.
type Descriptor struct {
	reg     *Registry
	et      *EntityType
	filters []Filter
	sort    []Sort
	cursor  string
	after   []any
	offset  int
	limit   int
	batch   bool
}

func (d Descriptor) Entity() string {
	if d.et == nil {
		return ""
	}
	return d.et.Name
}

func (d Descriptor) EntityType() *EntityType { return d.et }
func (d Descriptor) Filters() []Filter { return append([]Filter(nil), d.filters...) }
func (d Descriptor) Sort() []Sort { return append([]Sort(nil), d.sort...) }
func (d Descriptor) Cursor() string { return d.cursor }
func (d Descriptor) Offset() int { return d.offset }
func (d Descriptor) Limit() int { return d.limit }

// IsBatch reports whether d was built by BatchQuery to serve merged keys.
func (d Descriptor) IsBatch() bool { return d.batch }

// After is the decoded keyset position: storage returns only records that
// sort strictly after this tuple under EffectiveSort. Nil when no cursor.
func (d Descriptor) After() []any { return append([]any(nil), d.after...) }

// EffectiveSort is the requested sort followed by the primary key, which
// makes the order total.
func (d Descriptor) EffectiveSort() []Sort {
	out := append([]Sort(nil), d.sort...)
	if d.et == nil {
		return out
	}
	for _, s := range d.sort {
		if s.Field == d.et.PrimaryKey {
			return out
		}
	}
	return append(out, Sort{Field: d.et.PrimaryKey, Direction: Asc})
}

func (d Descriptor) clone() Descriptor {
	c := d
	c.filters = append([]Filter(nil), d.filters...)
	c.sort = append([]Sort(nil), d.sort...)
	c.after = append([]any(nil), d.after...)
	return c
}

func (d Descriptor) valid() error {
	if d.et == nil || d.reg == nil {
		return fault.InvalidQuery("", "descriptor not created by a registry")
	}
	return nil
}

// WithFilter appends the predicate (field op value).
func (d Descriptor) WithFilter(field string, op Op, value any) (Descriptor, error) {
	if err := d.valid(); err != nil {
		return Descriptor{}, err
	}
	if !d.et.CanFilter(field) {
		return Descriptor{}, fault.InvalidQuery(d.et.Name, "field %q is not filterable", field)
	}
	if !op.Valid() {
		return Descriptor{}, fault.InvalidQuery(d.et.Name, "unknown operator %q", op)
	}
	if op == OpIn {
		list, ok := toList(value)
		if !ok {
			return Descriptor{}, fault.InvalidQuery(d.et.Name, "operator in on %q needs a list, got %T", field, value)
		}
		for _, v := range list {
			if _, err := key.Canonical(v); err != nil {
				return Descriptor{}, fault.InvalidQuery(d.et.Name, "filter %s: %v", field, err)
			}
		}
		value = list
	} else if _, err := key.Canonical(value); err != nil {
		return Descriptor{}, fault.InvalidQuery(d.et.Name, "filter %s: %v", field, err)
	}
	c := d.clone()
	c.filters = append(c.filters, Filter{Field: field, Op: op, Value: value})
	return c, nil
}

// WithSort appends a sort key. Applying a sort to a descriptor that already
// holds a cursor re-validates the cursor against the new order.
func (d Descriptor) WithSort(field string, dir Direction) (Descriptor, error) {
	if err := d.valid(); err != nil {
		return Descriptor{}, err
	}
	if dir == "" {
		dir = Asc
	}
	if dir != Asc && dir != Desc {
		return Descriptor{}, fault.InvalidQuery(d.et.Name, "unknown sort direction %q", dir)
	}
	if !d.et.CanSort(field) {
		return Descriptor{}, fault.InvalidQuery(d.et.Name, "field %q is not sortable", field)
	}
	for _, s := range d.sort {
		if s.Field == field {
			return Descriptor{}, fault.InvalidQuery(d.et.Name, "field %q sorted twice", field)
		}
	}
	c := d.clone()
	c.sort = append(c.sort, Sort{Field: field, Direction: dir})
	if c.cursor != "" {
		if _, err := c.decodeCursor(c.cursor); err != nil {
			return Descriptor{}, err
		}
	}
	return c, nil
}

// WithCursor positions d after the record the token was produced from.
func (d Descriptor) WithCursor(token string) (Descriptor, error) {
	if err := d.valid(); err != nil {
		return Descriptor{}, err
	}
	if d.offset > 0 {
		return Descriptor{}, fault.InvalidQuery(d.et.Name, "cursor and offset are mutually exclusive")
	}
	after, err := d.decodeCursor(token)
	if err != nil {
		return Descriptor{}, err
	}
	c := d.clone()
	c.cursor = token
	c.after = after
	return c, nil
}

func (d Descriptor) decodeCursor(token string) ([]any, error) {
	if d.reg.codec == nil {
		return nil, fault.InvalidQuery(d.et.Name, "cursors are not enabled")
	}
	pos, err := d.reg.codec.Decode(token)
	if err != nil {
		return nil, err
	}
	if pos.Sort != d.SortFingerprint() {
		return nil, fault.StaleCursor(d.et.Name, "cursor was produced under a different sort order")
	}
	if len(pos.Values) != len(d.EffectiveSort()) {
		return nil, fault.InvalidQuery(d.et.Name, "malformed cursor: %d values for %d sort keys", len(pos.Values), len(d.EffectiveSort()))
	}
	return pos.Values, nil
}

// WithOffset skips n records. Offset and cursor cannot be combined.
func (d Descriptor) WithOffset(n int) (Descriptor, error) {
	if err := d.valid(); err != nil {
		return Descriptor{}, err
	}
	if n < 0 {
		return Descriptor{}, fault.InvalidQuery(d.et.Name, "negative offset %d", n)
	}
	if n > 0 && d.cursor != "" {
		return Descriptor{}, fault.InvalidQuery(d.et.Name, "cursor and offset are mutually exclusive")
	}
	c := d.clone()
	c.offset = n
	return c, nil
}

// WithLimit sets the page size, clamped to [1, MaxPageSize].
func (d Descriptor) WithLimit(n int) Descriptor {
	c := d.clone()
	c.limit = clampLimit(n, d.maxPageSize())
	c.batch = false
	return c
}

func (d Descriptor) maxPageSize() int {
	if d.reg == nil {
		return DefaultLimits.MaxPageSize
	}
	return d.reg.limits.MaxPageSize
}

func clampLimit(n, max int) int {
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

// SortFingerprint identifies the effective sort order of d.
func (d Descriptor) SortFingerprint() string {
	var b strings.Builder
	b.WriteString(d.Entity())
	for _, s := range d.EffectiveSort() {
		b.WriteByte('|')
		b.WriteString(s.Field)
		b.WriteByte(':')
		b.WriteString(string(s.Direction))
	}
	return strconv.FormatUint(xxhash.Sum64String(b.String()), 16)
}

// Fingerprint identifies the whole request; equal descriptors fetch equal pages.
func (d Descriptor) Fingerprint() string {
	return strconv.FormatUint(xxhash.Sum64String(d.String()), 16)
}

// CursorFor returns the token that continues a page after rec.
func (d Descriptor) CursorFor(rec Record) (string, error) {
	if err := d.valid(); err != nil {
		return "", err
	}
	if d.reg.codec == nil {
		return "", fault.InvalidQuery(d.et.Name, "cursors are not enabled")
	}
	sorts := d.EffectiveSort()
	vals := make([]any, len(sorts))
	for i, s := range sorts {
		v, ok := rec[s.Field]
		if !ok {
			return "", fault.InvalidQuery(d.et.Name, "record lacks sort field %q", s.Field)
		}
		vals[i] = v
	}
	return d.reg.codec.Encode(cursor.Position{Sort: d.SortFingerprint(), Values: vals})
}

func (d Descriptor) String() string {
	var b strings.Builder
	b.WriteString(d.Entity())
	b.WriteByte('(')
	for i, f := range d.filters {
		if i > 0 {
			b.WriteString(" and ")
		}
		b.WriteString(f.Field)
		b.WriteByte(' ')
		b.WriteString(string(f.Op))
		b.WriteByte(' ')
		if list, ok := f.Value.([]any); ok {
			b.WriteByte('[')
			for j, v := range list {
				if j > 0 {
					b.WriteByte(',')
				}
				b.WriteString(canonical(v))
			}
			b.WriteByte(']')
		} else {
			b.WriteString(canonical(f.Value))
		}
	}
	b.WriteString(") order by ")
	for i, s := range d.EffectiveSort() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s.Field + " " + string(s.Direction))
	}
	if len(d.after) > 0 {
		b.WriteString(" after (")
		for i, v := range d.after {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(canonical(v))
		}
		b.WriteByte(')')
	}
	fmt.Fprintf(&b, " offset %d limit %d", d.offset, d.limit)
	if d.batch {
		b.WriteString(" batch")
	}
	return b.String()
}

func canonical(v any) string {
	if s, err := key.Canonical(v); err == nil {
		return s
	}
	return fmt.Sprintf("%#v", v)
}

func toList(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return append([]any(nil), list...), true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
