package executor

import (
	"math"
	"strings"

	"github.com/hanpama/graphload/internal/fault"
	"github.com/hanpama/graphload/internal/query"
)

// ConnectionObject defines the page type {nodes, endCursor, hasMore} for
// nodeType. The multiplier of a page belongs to the field returning it, so
// nodes itself counts once.
func ConnectionObject(name, nodeType string) *Object {
	return &Object{Name: name, Fields: Fields{
		"nodes":     {Type: nodeType, List: true, Arity: func(map[string]any) int { return 1 }},
		"endCursor": {},
		"hasMore":   {},
	}}
}

// PageArity bounds a paginated field by its first argument, clamped like
// the descriptor limit.
func PageArity(lim query.Limits) func(args map[string]any) int {
	return func(args map[string]any) int {
		n, ok := toInt(args["first"])
		if !ok {
			return lim.DefaultPageSize
		}
		return min(max(n, 1), lim.MaxPageSize)
	}
}

// ApplyArgs composes the pagination arguments onto d:
//
//	where:   [{field, op, value}]
//	orderBy: [{field, direction}] or a single {field, direction}
//	after:   cursor of the previous page
//	offset:  records to skip
//	first:   page size
func ApplyArgs(d query.Descriptor, args map[string]any) (query.Descriptor, error) {
	where, err := objects(d.Entity(), "where", args["where"])
	if err != nil {
		return query.Descriptor{}, err
	}
	for _, w := range where {
		field, _ := w["field"].(string)
		op, _ := w["op"].(string)
		if op == "" {
			op = string(query.OpEq)
		}
		if d, err = d.WithFilter(field, query.Op(strings.ToLower(op)), w["value"]); err != nil {
			return query.Descriptor{}, err
		}
	}
	orderBy, err := objects(d.Entity(), "orderBy", args["orderBy"])
	if err != nil {
		return query.Descriptor{}, err
	}
	for _, o := range orderBy {
		field, _ := o["field"].(string)
		dir, _ := o["direction"].(string)
		if d, err = d.WithSort(field, query.Direction(strings.ToLower(dir))); err != nil {
			return query.Descriptor{}, err
		}
	}
	if after, ok := args["after"].(string); ok && after != "" {
		if d, err = d.WithCursor(after); err != nil {
			return query.Descriptor{}, err
		}
	}
	if v, present := args["offset"]; present && v != nil {
		n, ok := toInt(v)
		if !ok {
			return query.Descriptor{}, fault.InvalidQuery(d.Entity(), "offset must be an integer")
		}
		if d, err = d.WithOffset(n); err != nil {
			return query.Descriptor{}, err
		}
	}
	if v, present := args["first"]; present && v != nil {
		n, ok := toInt(v)
		if !ok {
			return query.Descriptor{}, fault.InvalidQuery(d.Entity(), "first must be an integer")
		}
		d = d.WithLimit(n)
	}
	return d, nil
}

func objects(entity, arg string, v any) ([]map[string]any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return []map[string]any{x}, nil
	case []any:
		out := make([]map[string]any, 0, len(x))
		for _, e := range x {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, fault.InvalidQuery(entity, "%s entries must be objects", arg)
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, fault.InvalidQuery(entity, "%s must be a list of objects", arg)
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	case float64:
		if x != math.Trunc(x) || math.Abs(x) > 1<<53 {
			return 0, false
		}
		return int(x), true
	}
	return 0, false
}
