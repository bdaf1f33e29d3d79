package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphload/internal/cursor"
	"github.com/hanpama/graphload/internal/query"
)

func products() []query.Record {
	return []query.Record{
		{"id": 1, "name": "desk", "price": 120.0, "category_id": 1},
		{"id": 2, "name": "lamp", "price": 19.5, "category_id": 2},
		{"id": 3, "name": "chair", "price": 45, "category_id": 1},
		{"id": 4, "name": "rug", "price": 19.5, "category_id": 2},
		{"id": 5, "name": "shelf", "price": 45, "category_id": 1},
		{"id": 6, "name": "mug", "price": 4.25, "category_id": 3},
		{"id": 7, "name": "pen", "price": nil, "category_id": 3},
	}
}

func setup(t *testing.T) (*Store, *query.Registry) {
	t.Helper()
	s := New()
	s.Insert("product", products()...)
	codec, err := cursor.NewCodec([]byte("k"))
	require.NoError(t, err)
	reg := query.NewRegistry(query.WithCodec(codec))
	require.NoError(t, reg.Register(query.EntityType{
		Name:       "product",
		PrimaryKey: "id",
		Filterable: []string{"price", "category_id", "name"},
		Sortable:   []string{"price", "name"},
		Fetch:      s.Fetch,
	}))
	return s, reg
}

func ids(recs []query.Record) []any {
	out := make([]any, len(recs))
	for i, r := range recs {
		out[i] = r["id"]
	}
	return out
}

func TestFiltersAndSort(t *testing.T) {
	s, reg := setup(t)
	d, _ := reg.Query("product")
	d, err := d.WithFilter("category_id", query.OpIn, []int{1, 2})
	require.NoError(t, err)
	d, err = d.WithFilter("price", query.OpGte, 19.5)
	require.NoError(t, err)
	d, err = d.WithSort("price", query.Desc)
	require.NoError(t, err)

	got, err := s.Fetch(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, []any{1, 3, 5, 2, 4}, ids(got))
	require.Equal(t, 1, s.Calls("product"))
}

func TestOperators(t *testing.T) {
	_, reg := setup(t)
	cases := []struct {
		op    query.Op
		value any
		want  []any
	}{
		{query.OpEq, 45, []any{3, 5}},
		{query.OpNe, "desk", []any{2, 3, 4, 5, 6, 7}},
		{query.OpLt, 19.5, []any{6, 7}},
		{query.OpLte, json.Number("19.5"), []any{2, 4, 6, 7}},
		{query.OpGt, int64(45), []any{1}},
	}
	for _, tc := range cases {
		field := "price"
		if tc.op == query.OpNe {
			field = "name"
		}
		d, _ := reg.Query("product")
		d, err := d.WithFilter(field, tc.op, tc.value)
		require.NoError(t, err)
		got, err := Evaluate(d.Spec(), products())
		require.NoError(t, err)
		require.Equal(t, tc.want, ids(got), "%s %v", tc.op, tc.value)
	}
}

func TestCursorPaginationHasNoGapsOrOverlaps(t *testing.T) {
	for _, dir := range []query.Direction{query.Asc, query.Desc} {
		s, reg := setup(t)
		base, _ := reg.Query("product")
		base, err := base.WithSort("price", dir)
		require.NoError(t, err)
		base = base.WithLimit(2)

		full, err := s.Fetch(context.Background(), base.WithLimit(100))
		require.NoError(t, err)
		require.Len(t, full, 7)

		var seen []query.Record
		d := base
		for i := 0; i < 10; i++ {
			recs, err := s.Fetch(context.Background(), d)
			require.NoError(t, err)
			page, err := d.Page(recs)
			require.NoError(t, err)
			seen = append(seen, page.Records...)
			if !page.HasMore {
				break
			}
			d, err = base.WithCursor(page.EndCursor)
			require.NoError(t, err)
		}
		if diff := cmp.Diff(ids(full), ids(seen)); diff != "" {
			t.Fatalf("%s pages differ from full listing (-full +pages):\n%s", dir, diff)
		}
	}
}

func TestCursorReplayIsIdempotent(t *testing.T) {
	s, reg := setup(t)
	base, _ := reg.Query("product")
	base, _ = base.WithSort("name", query.Asc)
	base = base.WithLimit(3)
	recs, err := s.Fetch(context.Background(), base)
	require.NoError(t, err)
	page, err := base.Page(recs)
	require.NoError(t, err)

	next, err := base.WithCursor(page.EndCursor)
	require.NoError(t, err)
	a, err := s.Fetch(context.Background(), next)
	require.NoError(t, err)
	b, err := s.Fetch(context.Background(), next)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, []any{6, 7, 4}, ids(a))
}

func TestOffsetAndLimit(t *testing.T) {
	_, reg := setup(t)
	d, _ := reg.Query("product")
	d, err := d.WithOffset(5)
	require.NoError(t, err)
	got, err := Evaluate(d.WithLimit(5).Spec(), products())
	require.NoError(t, err)
	require.Equal(t, []any{6, 7}, ids(got))

	d, _ = d.WithOffset(50)
	got, err = Evaluate(d.Spec(), products())
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestFetchReturnsCopies(t *testing.T) {
	s, reg := setup(t)
	d, _ := reg.Query("product")
	got, err := s.Fetch(context.Background(), d)
	require.NoError(t, err)
	got[0]["name"] = "changed"
	again, err := s.Fetch(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, "desk", again[0]["name"])
}

func TestInjectedFailureAndCancellation(t *testing.T) {
	s, reg := setup(t)
	d, _ := reg.Query("product")
	boom := errors.New("boom")
	s.Fail("product", boom)
	_, err := s.Fetch(context.Background(), d)
	require.ErrorIs(t, err, boom)
	s.Fail("product", nil)
	_, err = s.Fetch(context.Background(), d)
	require.NoError(t, err)

	s.SetDelay(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.Fetch(ctx, d)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 3, s.TotalCalls())
	s.ResetCalls()
	require.Zero(t, s.TotalCalls())
}

func TestCompare(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.Zero(t, Compare(17, 17.0))
	require.Zero(t, Compare(uint8(3), json.Number("3")))
	require.Zero(t, Compare(at, "2024-01-02T03:04:05Z"))
	require.Negative(t, Compare(nil, 0))
	require.Positive(t, Compare("b", "a"))
	require.Negative(t, Compare(false, true))

	big := int64(1) << 53
	require.Negative(t, Compare(big, big+1))
	require.Negative(t, Compare(uint64(big), big+1))
	require.Positive(t, Compare(uint64(math.MaxUint64), int64(-1)))
	require.Positive(t, Compare(json.Number("9007199254740993"), float64(big)))
	require.Zero(t, Compare(json.Number("9007199254740993"), uint64(big+1)))
}

func TestInMatchesLargeIntegersExactly(t *testing.T) {
	big := int64(1) << 53
	recs := []query.Record{{"id": big}, {"id": big + 1}, {"id": big + 2}}
	reg := query.NewRegistry()
	require.NoError(t, reg.Register(query.EntityType{
		Name:       "ledger",
		PrimaryKey: "id",
		Filterable: []string{"id"},
		Fetch:      New().Fetch,
	}))
	d, _ := reg.Query("ledger")
	d, err := d.WithFilter("id", query.OpIn, []any{big + 1})
	require.NoError(t, err)
	got, err := Evaluate(d.Spec(), recs)
	require.NoError(t, err)
	require.Equal(t, []any{big + 1}, ids(got))
}
