package executor

import (
	"github.com/hanpama/graphload/internal/fault"
	"github.com/hanpama/graphload/internal/guard"
)

// Plan validates op against the schema and builds its resolution tree.
func (e *Executor) Plan(op *Operation) (*guard.Tree, error) {
	t := guard.NewTree()
	if err := e.plan(t, guard.Root, e.schema.Query, op.Selections); err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Executor) plan(t *guard.Tree, parent guard.NodeID, typeName string, sels []*Selection) error {
	lim := e.reg.Limits()
	for _, s := range sels {
		if s.On != "" && s.On != typeName {
			if e.schema.Types[s.On] == nil {
				return fault.InvalidQuery("", "unknown type %s in fragment condition", s.On)
			}
			continue
		}
		if s.Name == "__typename" {
			t.Add(parent, s.Name, 0, 1)
			continue
		}
		f := e.schema.field(typeName, s.Name)
		if f == nil {
			return fault.InvalidQuery("", "cannot query field %q on type %s", s.Name, typeName)
		}
		switch {
		case f.Type == "" && len(s.Children) > 0:
			return fault.InvalidQuery("", "field %s.%s is a leaf and takes no selection", typeName, s.Name)
		case f.Type != "" && len(s.Children) == 0:
			return fault.InvalidQuery("", "field %s.%s of type %s needs a selection", typeName, s.Name, f.Type)
		}
		id := t.Add(parent, s.Name, f.unitCost(), f.arity(s.Args, lim))
		if f.Type != "" {
			if err := e.plan(t, id, f.Type, s.Children); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckComplexity plans op and measures it against the configured limits. A
// rejected operation touches no storage.
func (e *Executor) CheckComplexity(op *Operation) (guard.Report, error) {
	t, err := e.Plan(op)
	if err != nil {
		return guard.Report{}, err
	}
	return guard.Check(t, e.limits)
}
