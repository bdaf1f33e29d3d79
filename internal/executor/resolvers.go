package executor

import (
	"github.com/hanpama/graphload/internal/key"
	"github.com/hanpama/graphload/internal/query"
)

// Bind picks the value a resolver binds its key to.
type Bind func(parent query.Record, args map[string]any) any

// Arg binds to a field argument.
func Arg(name string) Bind {
	return func(_ query.Record, args map[string]any) any { return args[name] }
}

// Parent binds to a field of the parent record.
func Parent(field string) Bind {
	return func(parent query.Record, _ map[string]any) any { return parent[field] }
}

// LoadOne resolves to the record of entity whose field equals the bound
// value. A null binding resolves to null without a fetch.
func LoadOne(entity, field string, b Bind) Resolver {
	return func(rq *Request, parent query.Record, args map[string]any) Result {
		v := b(parent, args)
		if v == nil {
			return Value(nil)
		}
		k, err := key.Of(entity, field, v)
		if err != nil {
			return Error(err)
		}
		return rq.Load(k)
	}
}

// LoadAll resolves to every record of entity whose field equals the bound
// value.
func LoadAll(entity, field string, b Bind) Resolver {
	return func(rq *Request, parent query.Record, args map[string]any) Result {
		v := b(parent, args)
		if v == nil {
			return Value([]query.Record{})
		}
		k, err := key.Of(entity, field, v)
		if err != nil {
			return Error(err)
		}
		return rq.LoadMany(k)
	}
}

// Paginate resolves to a connection over entity shaped by the where,
// orderBy, after, offset and first arguments. Extra filters can be pinned
// from the parent, such as the owner of a nested collection.
func Paginate(entity string, pins ...Pin) Resolver {
	return func(rq *Request, parent query.Record, args map[string]any) Result {
		d, err := rq.Registry().Query(entity)
		if err != nil {
			return Error(err)
		}
		for _, p := range pins {
			if d, err = d.WithFilter(p.Field, query.OpEq, p.Bind(parent, args)); err != nil {
				return Error(err)
			}
		}
		if d, err = ApplyArgs(d, args); err != nil {
			return Error(err)
		}
		return rq.Connection(d)
	}
}

// Pin fixes Field to the bound value in a paginated query.
type Pin struct {
	Field string
	Bind  Bind
}
