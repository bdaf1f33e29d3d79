// Package key implements the identity of a pending fetch: an entity type plus
// a set of bind parameters. Keys are compared by value through ID, which is
// comparable and safe to use as a map key.
package key

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ID is the comparable identity of a Key. Two keys are equal iff their IDs are.
type ID struct {
	Entity string
	Binds  string // canonical encoding of the sorted bind mapping
}

// Key identifies one fetch: entity type plus bind-parameter values.
// The zero Key is invalid.
type Key struct {
	id     ID
	fields []string
	values []any
}

// New builds a Key. Every bind value must be a scalar.
func New(entity string, binds map[string]any) (Key, error) {
	if entity == "" {
		return Key{}, fmt.Errorf("key: empty entity type")
	}
	if len(binds) == 0 {
		return Key{}, fmt.Errorf("key: %s has no bind parameters", entity)
	}
	fields := make([]string, 0, len(binds))
	for f := range binds {
		if f == "" {
			return Key{}, fmt.Errorf("key: %s has an empty bind name", entity)
		}
		fields = append(fields, f)
	}
	sort.Strings(fields)

	values := make([]any, len(fields))
	var b strings.Builder
	for i, f := range fields {
		v := binds[f]
		enc, err := Canonical(v)
		if err != nil {
			return Key{}, fmt.Errorf("key: %s.%s: %w", entity, f, err)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(f)
		b.WriteByte('=')
		b.WriteString(enc)
		values[i] = v
	}
	return Key{id: ID{Entity: entity, Binds: b.String()}, fields: fields, values: values}, nil
}

// Of builds a single-bind Key, the common case of a primary or foreign key lookup.
func Of(entity, field string, value any) (Key, error) {
	return New(entity, map[string]any{field: value})
}

// FromRecord builds the Key that rec satisfies for the given bind fields.
// It reports false when rec lacks one of the fields or holds a non-scalar.
func FromRecord(entity string, fields []string, rec map[string]any) (Key, bool) {
	binds := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := rec[f]
		if !ok {
			return Key{}, false
		}
		binds[f] = v
	}
	k, err := New(entity, binds)
	if err != nil {
		return Key{}, false
	}
	return k, true
}

func (k Key) ID() ID { return k.id }
func (k Key) Entity() string { return k.id.Entity }
func (k Key) IsZero() bool { return k.id.Entity == "" }
func (k Key) Equal(o Key) bool { return k.id == o.id }

// Fields returns the sorted bind names.
func (k Key) Fields() []string { return append([]string(nil), k.fields...) }

// Shape is the comma-joined sorted bind names. Keys of one entity with the
// same shape can be merged into a single membership filter.
func (k Key) Shape() string { return strings.Join(k.fields, ",") }

// Value returns the bind value for field as it was given to New.
func (k Key) Value(field string) (any, bool) {
	i := sort.SearchStrings(k.fields, field)
	if i < len(k.fields) && k.fields[i] == field {
		return k.values[i], true
	}
	return nil, false
}

// Binds returns a copy of the bind mapping.
func (k Key) Binds() map[string]any {
	m := make(map[string]any, len(k.fields))
	for i, f := range k.fields {
		m[f] = k.values[i]
	}
	return m
}

// Hash is a 64-bit digest of the key identity.
func (k Key) Hash() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(k.id.Entity)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(k.id.Binds)
	return d.Sum64()
}

func (k Key) String() string {
	return k.id.Entity + "{" + k.id.Binds + "}"
}

// Canonical encodes a scalar so that values considered equal by the engine
// encode identically. Integers and integral floats share one numeric form:
// 17, int64(17), uint8(17) and 17.0 are all "n:17".
func Canonical(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case string:
		return "s:" + strconv.Quote(x), nil
	case bool:
		return "b:" + strconv.FormatBool(x), nil
	case int:
		return "n:" + strconv.FormatInt(int64(x), 10), nil
	case int8:
		return "n:" + strconv.FormatInt(int64(x), 10), nil
	case int16:
		return "n:" + strconv.FormatInt(int64(x), 10), nil
	case int32:
		return "n:" + strconv.FormatInt(int64(x), 10), nil
	case int64:
		return "n:" + strconv.FormatInt(x, 10), nil
	case uint:
		return "n:" + strconv.FormatUint(uint64(x), 10), nil
	case uint8:
		return "n:" + strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return "n:" + strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return "n:" + strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return "n:" + strconv.FormatUint(x, 10), nil
	case float32:
		return canonicalFloat(float64(x))
	case float64:
		return canonicalFloat(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return "n:" + strconv.FormatInt(i, 10), nil
		}
		f, err := x.Float64()
		if err != nil {
			return "", fmt.Errorf("invalid number %q", x.String())
		}
		return canonicalFloat(f)
	case []byte:
		return "x:" + hex.EncodeToString(x), nil
	case fmt.Stringer:
		return "v:" + strconv.Quote(x.String()), nil
	}
	return "", fmt.Errorf("unsupported bind value of type %T", v)
}

// 2^53: above this float64 no longer represents every integer.
const maxExactFloat = 1 << 53

func canonicalFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("non-finite number %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) <= maxExactFloat {
		return "n:" + strconv.FormatInt(int64(f), 10), nil
	}
	return "n:" + strconv.FormatFloat(f, 'g', -1, 64), nil
}
