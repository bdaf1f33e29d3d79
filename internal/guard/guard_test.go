package guard

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphload/internal/fault"
)

// user -> orders(20) -> items(10) -> product -> category
func orderTree() *Tree {
	t := NewTree()
	user := t.Add(Root, "user", 1, 1)
	t.Add(user, "name", 0, 1)
	orders := t.Add(user, "orders", 1, 20)
	items := t.Add(orders, "items", 1, 10)
	product := t.Add(items, "product", 1, 1)
	t.Add(product, "category", 1, 1)
	return t
}

func TestCostMultipliesAncestorArities(t *testing.T) {
	rep, err := Check(orderTree(), Limits{})
	require.NoError(t, err)
	// user 1 + orders 1 + items 20 + product 200 + category 200
	require.Equal(t, Report{Cost: 422, Depth: 5}, rep)
}

func TestCostLimit(t *testing.T) {
	_, err := Check(orderTree(), Limits{MaxCost: 421})
	require.ErrorIs(t, err, fault.ErrQueryTooExpensive)

	_, err = Check(orderTree(), Limits{MaxCost: 422})
	require.NoError(t, err)
}

func TestDepthLimit(t *testing.T) {
	tr := orderTree()
	cat, _ := tr.Node(NodeID(tr.Len()))
	tr.Add(cat.ID, "parent", 1, 1)

	rep, err := Check(tr, Limits{MaxDepth: 5})
	require.ErrorIs(t, err, fault.ErrQueryTooExpensive)
	require.Equal(t, 6, rep.Depth)

	_, err = Check(tr, Limits{MaxDepth: 6})
	require.NoError(t, err)
}

func TestCycleRejected(t *testing.T) {
	tr := NewTree()
	a := tr.Add(Root, "category", 1, 1)
	b := tr.Add(a, "subcategories", 1, 5)
	require.NoError(t, tr.Link(b, a))

	_, err := Check(tr, Limits{})
	require.ErrorIs(t, err, fault.ErrQueryTooExpensive)
}

func TestSharedSubtreeIsNotACycle(t *testing.T) {
	tr := NewTree()
	a := tr.Add(Root, "a", 1, 2)
	b := tr.Add(Root, "b", 1, 3)
	leaf := tr.Add(a, "leaf", 1, 1)
	require.NoError(t, tr.Link(b, leaf))

	rep, err := Check(tr, Limits{})
	require.NoError(t, err)
	require.Equal(t, Report{Cost: 1 + 2 + 1 + 3, Depth: 2}, rep)
}

func TestLinkValidation(t *testing.T) {
	tr := NewTree()
	a := tr.Add(Root, "a", 1, 1)
	require.Error(t, tr.Link(a, Root))
	require.Error(t, tr.Link(a, 42))
}

func TestSaturation(t *testing.T) {
	tr := NewTree()
	n := tr.Add(Root, "a", 1, math.MaxInt)
	n = tr.Add(n, "b", 1, math.MaxInt)
	tr.Add(n, "c", math.MaxInt, 1)

	rep, err := Check(tr, Limits{})
	require.NoError(t, err)
	require.Equal(t, math.MaxInt, rep.Cost)

	_, err = Check(tr, Limits{MaxCost: 1000})
	require.ErrorIs(t, err, fault.ErrQueryTooExpensive)
}

func TestSelectionLimit(t *testing.T) {
	_, err := Check(orderTree(), Limits{MaxSelections: 5})
	require.ErrorIs(t, err, fault.ErrQueryTooExpensive)

	_, err = Check(orderTree(), Limits{MaxSelections: 6})
	require.NoError(t, err)
}
