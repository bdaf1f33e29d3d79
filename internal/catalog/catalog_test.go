package catalog

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphload/internal/cursor"
	"github.com/hanpama/graphload/internal/executor"
	"github.com/hanpama/graphload/internal/guard"
	"github.com/hanpama/graphload/internal/memstore"
	"github.com/hanpama/graphload/internal/query"
)

func setup(t *testing.T, opts ...executor.Option) (*executor.Executor, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	Seed(st)
	codec, err := cursor.NewCodec([]byte("catalog"))
	require.NoError(t, err)
	reg := query.NewRegistry(query.WithCodec(codec))
	require.NoError(t, Register(reg, st.Fetch))
	sch, err := Schema(reg.Limits())
	require.NoError(t, err)
	return executor.New(sch, reg, opts...), st
}

func execute(t *testing.T, e *executor.Executor, src string) *executor.ExecutionResult {
	t.Helper()
	op, err := executor.ParseQuery(src, "", nil)
	require.NoError(t, err)
	return e.Execute(context.Background(), op, nil)
}

func TestRecords(t *testing.T) {
	recs := Records()
	require.Len(t, recs[User], 4)
	require.Len(t, recs[Order], 8)
	require.Len(t, recs[OrderItem], 16)
	require.Len(t, recs[Product], 8)
	require.Len(t, recs[Category], 4)
	require.Equal(t, 9.0, recs[Order][0]["total"])
}

func TestRegister_RejectsTwice(t *testing.T) {
	reg := query.NewRegistry()
	st := memstore.New()
	require.NoError(t, Register(reg, st.Fetch))
	require.Error(t, Register(reg, st.Fetch))
}

func TestUserOrderTree_OneCallPerLevel(t *testing.T) {
	e, st := setup(t)
	res := execute(t, e, `{
		user(id: 1) {
			name
			orders {
				id
				total
				items {
					quantity
					product { name category { name parent { name } } }
				}
			}
		}
	}`)
	require.Empty(t, res.Errors)

	paper := map[string]any{"name": "Paper", "parent": map[string]any{"name": "Stationery"}}
	pens := map[string]any{"name": "Pens", "parent": map[string]any{"name": "Stationery"}}
	want := map[string]any{"user": map[string]any{
		"name": "Ada",
		"orders": []any{
			map[string]any{"id": 1001, "total": 9.0, "items": []any{
				map[string]any{"quantity": 1, "product": map[string]any{"name": "Notebook", "category": paper}},
				map[string]any{"quantity": 2, "product": map[string]any{"name": "Marker", "category": pens}},
			}},
			map[string]any{"id": 1005, "total": 7.5, "items": []any{
				map[string]any{"quantity": 1, "product": map[string]any{"name": "Gel pen", "category": pens}},
				map[string]any{"quantity": 2, "product": map[string]any{"name": "Legal pad", "category": paper}},
			}},
		},
	}}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, 1, st.Calls(User))
	require.Equal(t, 1, st.Calls(Order))
	require.Equal(t, 1, st.Calls(OrderItem))
	require.Equal(t, 1, st.Calls(Product))
	require.Equal(t, 2, st.Calls(Category))
	require.Equal(t, 6, res.Extensions["stats"].(executor.Stats).Ticks)
}

func TestCategoryProducts_PagePerParent(t *testing.T) {
	e, st := setup(t)
	res := execute(t, e, `{
		category(id: 1) {
			children {
				name
				products(first: 2, orderBy: {field: "price"}) { nodes { name } hasMore }
			}
		}
	}`)
	require.Empty(t, res.Errors)

	want := map[string]any{"category": map[string]any{"children": []any{
		map[string]any{"name": "Paper", "products": map[string]any{
			"nodes":   []any{map[string]any{"name": "Legal pad"}, map[string]any{"name": "Notebook"}},
			"hasMore": true,
		}},
		map[string]any{"name": "Pens", "products": map[string]any{
			"nodes":   []any{map[string]any{"name": "Gel pen"}, map[string]any{"name": "Marker"}},
			"hasMore": true,
		}},
	}}}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 2, st.Calls(Product))
	require.Equal(t, 3, res.Extensions["stats"].(executor.Stats).Ticks)
}

func TestUserOrderPage_FilteredByOwner(t *testing.T) {
	e, _ := setup(t)
	res := execute(t, e, `{
		user(id: 2) {
			orderPage(first: 5, orderBy: {field: "total", direction: DESC}) { nodes { id user { name } } }
		}
	}`)
	require.Empty(t, res.Errors)
	nodes := res.Data.(map[string]any)["user"].(map[string]any)["orderPage"].(map[string]any)["nodes"].([]any)
	require.Len(t, nodes, 2)
	for _, n := range nodes {
		require.Equal(t, map[string]any{"name": "Brian"}, n.(map[string]any)["user"])
	}
}

func TestDepthLimit(t *testing.T) {
	e, st := setup(t, executor.WithLimits(guard.Limits{MaxDepth: 5}))
	res := execute(t, e, `{ user(id: 1) { orders { items { product { category { name } } } } } }`)
	require.Nil(t, res.Data)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "QUERY_TOO_EXPENSIVE", res.Errors[0].Extensions["code"])
	require.Zero(t, st.TotalCalls())
}
