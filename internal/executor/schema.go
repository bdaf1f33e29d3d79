package executor

import (
	"fmt"
	"sort"

	"github.com/hanpama/graphload/internal/query"
)

// Resolver computes a field for one parent record.
type Resolver func(rq *Request, parent query.Record, args map[string]any) Result

// Field defines one field of an object type.
type Field struct {
	// Type names the object type of the value; empty for leaf values.
	Type string
	List bool
	// Cost is the unit cost used by the complexity guard. Resolved fields
	// with zero cost count as 1.
	Cost int
	// Arity bounds the number of values the field yields per parent. Nil means
	// 1 for single values and the registry's page limit for lists.
	Arity func(args map[string]any) int
	// Resolve computes the value. Nil projects parent[fieldName].
	Resolve Resolver
}

func (f *Field) unitCost() int {
	if f.Cost == 0 && f.Resolve != nil {
		return 1
	}
	return f.Cost
}

func (f *Field) arity(args map[string]any, lim query.Limits) int {
	if f.Arity != nil {
		return f.Arity(args)
	}
	if f.List {
		return lim.MaxPageSize
	}
	return 1
}

type Fields map[string]*Field

type Object struct {
	Name   string
	Fields Fields
}

// Schema is the set of object types reachable from the root query type.
type Schema struct {
	Query string
	Types map[string]*Object
}

// NewSchema indexes objects and checks that every field type is defined.
func NewSchema(queryType string, objects ...*Object) (*Schema, error) {
	s := &Schema{Query: queryType, Types: make(map[string]*Object, len(objects))}
	for _, o := range objects {
		if _, dup := s.Types[o.Name]; dup {
			return nil, fmt.Errorf("executor: type %s defined twice", o.Name)
		}
		s.Types[o.Name] = o
	}
	if _, ok := s.Types[queryType]; !ok {
		return nil, fmt.Errorf("executor: query type %s not defined", queryType)
	}
	for _, name := range s.typeNames() {
		o := s.Types[name]
		for fname, f := range o.Fields {
			if f == nil {
				return nil, fmt.Errorf("executor: %s.%s has no definition", name, fname)
			}
			if f.Type != "" && s.Types[f.Type] == nil {
				return nil, fmt.Errorf("executor: %s.%s refers to unknown type %s", name, fname, f.Type)
			}
		}
	}
	return s, nil
}

func (s *Schema) typeNames() []string {
	out := make([]string, 0, len(s.Types))
	for n := range s.Types {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (s *Schema) field(typeName, field string) *Field {
	o := s.Types[typeName]
	if o == nil {
		return nil
	}
	return o.Fields[field]
}
