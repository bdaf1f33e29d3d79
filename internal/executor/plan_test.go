package executor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphload/internal/fault"
	"github.com/hanpama/graphload/internal/guard"
)

func TestCheckComplexity_Report(t *testing.T) {
	e, _ := newExecutor(t)
	for name, tc := range map[string]struct {
		src   string
		cost  int
		depth int
	}{
		"single lookup":    {`{ user(id: 1) { name } }`, 1, 2},
		"typename is free": {`{ user(id: 1) { __typename } }`, 1, 2},
		"nested lists multiply": {
			`{ user(id: 1) { orders { items { product { name } } } } }`,
			1 + 1 + 20 + 200, 5,
		},
		"page size from first": {
			`{ products(first: 7) { nodes { category { name } } } }`,
			1 + 7, 4,
		},
		"page size is clamped": {
			`{ products(first: 5000) { nodes { category { name } } } }`,
			1 + 100, 4,
		},
		"default page size": {
			`{ products { nodes { category { name } } } }`,
			1 + 20, 4,
		},
	} {
		t.Run(name, func(t *testing.T) {
			op, err := ParseQuery(tc.src, "", nil)
			require.NoError(t, err)
			rep, err := e.CheckComplexity(op)
			require.NoError(t, err)
			require.Equal(t, guard.Report{Cost: tc.cost, Depth: tc.depth}, rep)
		})
	}
}

func TestPlan_RejectsInvalidSelections(t *testing.T) {
	e, _ := newExecutor(t)
	for name, src := range map[string]string{
		"unknown field":          `{ nope }`,
		"unknown nested field":   `{ user(id: 1) { nope } }`,
		"leaf with selection":    `{ user(id: 1) { name { x } } }`,
		"object without fields":  `{ user(id: 1) }`,
		"unknown type condition": `{ ... on Nope { a } }`,
	} {
		t.Run(name, func(t *testing.T) {
			op, err := ParseQuery(src, "", nil)
			require.NoError(t, err)
			_, err = e.Plan(op)
			require.ErrorIs(t, err, fault.ErrInvalidQuery)

			res := e.Execute(t.Context(), op, nil)
			require.Nil(t, res.Data)
			require.Equal(t, []string{"INVALID_QUERY"}, codes(res))
		})
	}
}

func TestPlan_FragmentOnOtherTypeIsIgnored(t *testing.T) {
	e, _ := newExecutor(t)
	op, err := ParseQuery(`{ user(id: 1) { name ... on Order { total } } }`, "", nil)
	require.NoError(t, err)
	tree, err := e.Plan(op)
	require.NoError(t, err)
	require.Equal(t, 2, tree.Len())
}

func TestNewSchema_Validation(t *testing.T) {
	_, err := NewSchema("Query", &Object{Name: "Other"})
	require.Error(t, err)

	_, err = NewSchema("Query", &Object{Name: "Query"}, &Object{Name: "Query"})
	require.Error(t, err)

	_, err = NewSchema("Query", &Object{Name: "Query", Fields: Fields{"x": {Type: "Missing"}}})
	require.Error(t, err)
}
