package executor

import (
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/hanpama/graphload/internal/fault"
	"github.com/hanpama/graphload/internal/guard"
)

// Selection is one requested field with its arguments resolved.
type Selection struct {
	Name  string
	Alias string
	// On restricts the selection to one object type; empty applies to all.
	On       string
	Args     map[string]any
	Children []*Selection
}

func (s *Selection) ResponseName() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Name
}

// Operation is a parsed query ready for planning and execution.
type Operation struct {
	Name       string
	Selections []*Selection
	Vars       map[string]any
	// Source is the document the operation was parsed from.
	Source string
}

// Document is a parsed query document. It is immutable and may be reused
// across requests with different variables.
type Document struct {
	src string
	doc *ast.QueryDocument
}

// ParseDocument parses src without selecting an operation.
func ParseDocument(src string) (*Document, error) {
	doc, perr := parser.ParseQuery(&ast.Source{Input: src})
	if perr != nil {
		return nil, &fault.Error{Kind: fault.KindInvalidQuery, Message: "syntax error", Err: perr}
	}
	return &Document{src: src, doc: doc}, nil
}

func (d *Document) Source() string { return d.src }

// ParseOption configures how an operation is collected from its document.
type ParseOption func(*collector)

// WithinLimits rejects, while fragments are being inlined, an operation
// deeper than lim.MaxDepth or selecting more than lim.MaxSelections fields.
func WithinLimits(lim guard.Limits) ParseOption {
	return func(c *collector) { c.lim = lim }
}

// Operation returns the operation named operationName, or the only
// operation when the name is empty. Fragments are inlined, directives
// evaluated and variables substituted. Only queries are accepted.
func (d *Document) Operation(operationName string, vars map[string]any, opts ...ParseOption) (*Operation, error) {
	op, err := selectOperation(d.doc, operationName)
	if err != nil {
		return nil, err
	}
	if op.Operation != ast.Query {
		return nil, fault.InvalidQuery("", "unsupported operation type: %s", op.Operation)
	}
	values := make(map[string]any, len(vars)+len(op.VariableDefinitions))
	for k, v := range vars {
		values[k] = v
	}
	for _, def := range op.VariableDefinitions {
		if _, ok := values[def.Variable]; ok {
			continue
		}
		if def.DefaultValue != nil {
			values[def.Variable] = astValueToGo(def.DefaultValue, nil)
		} else if def.Type != nil && def.Type.NonNull {
			return nil, fault.InvalidQuery("", "variable $%s of required type %s was not provided", def.Variable, def.Type.String())
		}
	}
	c := collector{doc: d.doc, vars: values, onStack: make(map[string]bool)}
	for _, o := range opts {
		o(&c)
	}
	sels, err := c.collect(op.SelectionSet, "", 1)
	if err != nil {
		return nil, err
	}
	return &Operation{Name: op.Name, Selections: sels, Vars: values, Source: d.src}, nil
}

// ParseQuery parses src and selects one operation from it.
func ParseQuery(src, operationName string, vars map[string]any, opts ...ParseOption) (*Operation, error) {
	d, err := ParseDocument(src)
	if err != nil {
		return nil, err
	}
	return d.Operation(operationName, vars, opts...)
}

func selectOperation(doc *ast.QueryDocument, name string) (*ast.OperationDefinition, error) {
	if name == "" {
		if len(doc.Operations) == 1 {
			return doc.Operations[0], nil
		}
		return nil, fault.InvalidQuery("", "operation name required for a document with %d operations", len(doc.Operations))
	}
	if op := doc.Operations.ForName(name); op != nil {
		return op, nil
	}
	return nil, fault.InvalidQuery("", "operation %q not found", name)
}

type collector struct {
	doc     *ast.QueryDocument
	vars    map[string]any
	onStack map[string]bool
	lim     guard.Limits
	count   int
}

// groups preserves first-seen order of response names. A field node or a
// fragment reached twice within one selection set is merged only once.
type groups struct {
	order   []*Selection
	index   map[string]*Selection
	sets    map[*Selection][]ast.SelectionSet
	fields  map[*ast.Field]bool
	spreads map[string]bool
}

func (c *collector) collect(set ast.SelectionSet, on string, depth int) ([]*Selection, error) {
	g := &groups{
		index:   make(map[string]*Selection),
		sets:    make(map[*Selection][]ast.SelectionSet),
		fields:  make(map[*ast.Field]bool),
		spreads: make(map[string]bool),
	}
	if err := c.collectInto(g, set, on, depth); err != nil {
		return nil, err
	}
	for _, s := range g.order {
		var merged ast.SelectionSet
		for _, ss := range g.sets[s] {
			merged = append(merged, ss...)
		}
		if len(merged) == 0 {
			continue
		}
		children, err := c.collect(merged, "", depth+1)
		if err != nil {
			return nil, err
		}
		s.Children = children
	}
	return g.order, nil
}

func (c *collector) collectInto(g *groups, set ast.SelectionSet, on string, depth int) error {
	for _, selection := range set {
		switch sel := selection.(type) {
		case *ast.Field:
			if g.fields[sel] || !c.include(sel.Directives) {
				continue
			}
			g.fields[sel] = true
			s := &Selection{Name: sel.Name, Alias: sel.Alias, On: on}
			if s.Alias == sel.Name {
				s.Alias = ""
			}
			id := on + "|" + s.ResponseName()
			if prev, ok := g.index[id]; ok {
				if prev.Name != s.Name {
					return fault.InvalidQuery("", "fields %q and %q conflict on response name %q", prev.Name, s.Name, s.ResponseName())
				}
				g.sets[prev] = append(g.sets[prev], sel.SelectionSet)
				continue
			}
			if c.lim.MaxDepth > 0 && depth > c.lim.MaxDepth {
				return fault.TooExpensive("depth %d exceeds limit %d at field %q", depth, c.lim.MaxDepth, s.Name)
			}
			if c.count++; c.lim.MaxSelections > 0 && c.count > c.lim.MaxSelections {
				return fault.TooExpensive("selections exceed limit %d at field %q", c.lim.MaxSelections, s.Name)
			}
			s.Args = make(map[string]any, len(sel.Arguments))
			for _, a := range sel.Arguments {
				s.Args[a.Name] = astValueToGo(a.Value, c.vars)
			}
			g.index[id] = s
			g.order = append(g.order, s)
			g.sets[s] = []ast.SelectionSet{sel.SelectionSet}

		case *ast.InlineFragment:
			if !c.include(sel.Directives) {
				continue
			}
			cond, err := narrow(on, sel.TypeCondition)
			if err != nil {
				return err
			}
			if err := c.collectInto(g, sel.SelectionSet, cond, depth); err != nil {
				return err
			}

		case *ast.FragmentSpread:
			if !c.include(sel.Directives) {
				continue
			}
			if c.onStack[sel.Name] {
				return fault.InvalidQuery("", "fragment %q spreads itself", sel.Name)
			}
			def := c.doc.Fragments.ForName(sel.Name)
			if def == nil {
				return fault.InvalidQuery("", "unknown fragment %q", sel.Name)
			}
			cond, err := narrow(on, def.TypeCondition)
			if err != nil {
				return err
			}
			id := cond + "|" + sel.Name
			if g.spreads[id] {
				continue
			}
			g.spreads[id] = true
			c.onStack[sel.Name] = true
			err = c.collectInto(g, def.SelectionSet, cond, depth)
			delete(c.onStack, sel.Name)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// narrow combines an enclosing type condition with a nested one.
func narrow(outer, inner string) (string, error) {
	switch {
	case inner == "" || inner == outer:
		return outer, nil
	case outer == "":
		return inner, nil
	}
	return "", fault.InvalidQuery("", "fragment on %s never applies inside %s", inner, outer)
}

func (c *collector) include(directives ast.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil {
		if v, ok := c.directiveArg(skip, "if").(bool); ok && v {
			return false
		}
	}
	if inc := directives.ForName("include"); inc != nil {
		if v, ok := c.directiveArg(inc, "if").(bool); ok && !v {
			return false
		}
	}
	return true
}

func (c *collector) directiveArg(d *ast.Directive, name string) any {
	if a := d.Arguments.ForName(name); a != nil {
		return astValueToGo(a.Value, c.vars)
	}
	return nil
}

func astValueToGo(value *ast.Value, vars map[string]any) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case ast.Variable:
		return vars[value.Raw]
	case ast.IntValue:
		iv, err := strconv.Atoi(value.Raw)
		if err != nil {
			fv, _ := strconv.ParseFloat(value.Raw, 64)
			return fv
		}
		return iv
	case ast.FloatValue:
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case ast.StringValue, ast.BlockValue:
		return value.Raw
	case ast.BooleanValue:
		return value.Raw == "true"
	case ast.NullValue:
		return nil
	case ast.EnumValue:
		return strings.ToLower(value.Raw)
	case ast.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = astValueToGo(c.Value, vars)
		}
		return out
	case ast.ObjectValue:
		m := make(map[string]any, len(value.Children))
		for _, f := range value.Children {
			m[f.Name] = astValueToGo(f.Value, vars)
		}
		return m
	}
	return nil
}
