package batch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hanpama/graphload/internal/fault"
	"github.com/hanpama/graphload/internal/key"
	"github.com/hanpama/graphload/internal/query"
)

// table is a minimal storage collaborator for membership filters.
type table struct {
	mu    sync.Mutex
	rows  []query.Record
	calls []query.Descriptor
	err   error
	block bool
}

func (tb *table) fetch(ctx context.Context, d query.Descriptor) ([]query.Record, error) {
	tb.mu.Lock()
	tb.calls = append(tb.calls, d)
	err, block := tb.err, tb.block
	tb.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	var out []query.Record
	for _, r := range tb.rows {
		if matches(r, d.Filters()) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (tb *table) callCount() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.calls)
}

func matches(r query.Record, fs []query.Filter) bool {
	for _, f := range fs {
		want, _ := key.Canonical(r[f.Field])
		ok := false
		switch f.Op {
		case query.OpIn:
			for _, v := range f.Value.([]any) {
				if c, _ := key.Canonical(v); c == want {
					ok = true
				}
			}
		case query.OpEq:
			c, _ := key.Canonical(f.Value)
			ok = c == want
		}
		if !ok {
			return false
		}
	}
	return true
}

type fixture struct {
	reg      *query.Registry
	products *table
	orders   *table
	items    *table
}

func newFixture(t *testing.T, opts ...query.Option) *fixture {
	t.Helper()
	fx := &fixture{
		reg: query.NewRegistry(opts...),
		products: &table{rows: []query.Record{
			{"id": 1, "name": "desk"}, {"id": 2, "name": "lamp"}, {"id": 3, "name": "chair"}, {"id": 4, "name": "rug"},
		}},
		orders: &table{rows: []query.Record{
			{"id": 10, "user_id": 1}, {"id": 11, "user_id": 1}, {"id": 12, "user_id": 2},
		}},
		items: &table{rows: []query.Record{
			{"id": 100, "order_id": 5, "product_id": 17},
			{"id": 101, "order_id": 5, "product_id": 18},
			{"id": 102, "order_id": 6, "product_id": 17},
			{"id": 103, "order_id": 6, "product_id": 18},
		}},
	}
	require.NoError(t, fx.reg.Register(query.EntityType{Name: "product", PrimaryKey: "id", Fetch: fx.products.fetch}))
	require.NoError(t, fx.reg.Register(query.EntityType{Name: "order", PrimaryKey: "id", Filterable: []string{"user_id"}, Fetch: fx.orders.fetch}))
	require.NoError(t, fx.reg.Register(query.EntityType{Name: "order_item", PrimaryKey: "id", Filterable: []string{"order_id", "product_id"}, Fetch: fx.items.fetch}))
	return fx
}

func mustKey(t *testing.T, entity string, binds map[string]any) key.Key {
	t.Helper()
	k, err := key.New(entity, binds)
	require.NoError(t, err)
	return k
}

func ids(rows []query.Record) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r["id"]
	}
	return out
}

func TestConcurrentRegistrationsShareOneFetch(t *testing.T) {
	fx := newFixture(t)
	s := New(fx.reg)

	const n = 50
	handles := make([]*Handle, n)
	var wg sync.WaitGroup
	for i := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handles[i] = s.Register(mustKey(t, "product", map[string]any{"id": 2}))
		}()
	}
	wg.Wait()

	require.Equal(t, 1, s.Pending())
	require.Equal(t, 1, s.Flush(context.Background()))
	require.Equal(t, 1, fx.products.callCount())
	for _, h := range handles {
		rows, err := h.Result()
		require.NoError(t, err)
		require.Equal(t, []any{2}, ids(rows))
	}
	st := s.Stats()
	require.Equal(t, n, st.Registrations)
	require.Equal(t, n-1, st.DedupHits)
	require.Equal(t, 1, st.StorageCalls)
}

func TestOneCallPerEntityType(t *testing.T) {
	fx := newFixture(t)
	s := New(fx.reg)

	var products, orders []*Handle
	for _, id := range []int{1, 2, 3} {
		products = append(products, s.Register(mustKey(t, "product", map[string]any{"id": id})))
	}
	for _, uid := range []int{1, 2} {
		orders = append(orders, s.Register(mustKey(t, "order", map[string]any{"user_id": uid})))
	}

	require.Equal(t, 2, s.Flush(context.Background()))
	require.Equal(t, 1, fx.products.callCount())
	require.Equal(t, 1, fx.orders.callCount())
	require.Equal(t, []query.Filter{{Field: "id", Op: query.OpIn, Value: []any{1, 2, 3}}}, fx.products.calls[0].Filters())
	require.True(t, fx.products.calls[0].IsBatch())

	for i, h := range products {
		rows, err := h.Result()
		require.NoError(t, err)
		require.Equal(t, []any{i + 1}, ids(rows))
	}
	rows, err := orders[0].Result()
	require.NoError(t, err)
	require.Equal(t, []any{10, 11}, ids(rows))
	rows, err = orders[1].Result()
	require.NoError(t, err)
	require.Equal(t, []any{12}, ids(rows))
	require.Zero(t, s.Flush(context.Background()))
}

func TestCompositeKeysPartitionExactly(t *testing.T) {
	fx := newFixture(t)
	s := New(fx.reg)
	a := s.Register(mustKey(t, "order_item", map[string]any{"order_id": 5, "product_id": 17}))
	b := s.Register(mustKey(t, "order_item", map[string]any{"order_id": 6, "product_id": 18}))

	s.Flush(context.Background())
	require.Equal(t, 1, fx.items.callCount())
	rows, err := a.Result()
	require.NoError(t, err)
	require.Equal(t, []any{100}, ids(rows))
	rows, err = b.Result()
	require.NoError(t, err)
	require.Equal(t, []any{103}, ids(rows))
}

func TestMissingKeyResolvesEmpty(t *testing.T) {
	fx := newFixture(t)
	s := New(fx.reg)
	h := s.Register(mustKey(t, "product", map[string]any{"id": 99}))
	s.Flush(context.Background())
	rows, err := h.Result()
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestFailedBatchFailsTogether(t *testing.T) {
	fx := newFixture(t)
	fx.orders.err = errors.New("connection reset")
	s := New(fx.reg)

	o1 := s.Register(mustKey(t, "order", map[string]any{"user_id": 1}))
	o2 := s.Register(mustKey(t, "order", map[string]any{"user_id": 2}))
	p := s.Register(mustKey(t, "product", map[string]any{"id": 4}))
	s.Flush(context.Background())

	for _, h := range []*Handle{o1, o2} {
		_, err := h.Result()
		require.ErrorIs(t, err, fault.ErrFetchFailed)
		require.ErrorContains(t, err, "connection reset")
	}
	rows, err := p.Result()
	require.NoError(t, err)
	require.Equal(t, []any{4}, ids(rows))
	require.Equal(t, 1, fx.orders.callCount())
}

func TestTruncatedBatchFails(t *testing.T) {
	fx := newFixture(t, query.WithLimits(query.Limits{MaxBatchRows: 3}))
	s := New(fx.reg)
	h := s.Register(mustKey(t, "order", map[string]any{"user_id": 1}))
	s.Register(mustKey(t, "order", map[string]any{"user_id": 2}))
	s.Flush(context.Background())
	_, err := h.Result()
	require.ErrorIs(t, err, fault.ErrFetchFailed)
}

func TestOverflowRollsOverToNextTick(t *testing.T) {
	fx := newFixture(t)
	s := New(fx.reg, WithMaxBatchKeys(2))
	var hs []*Handle
	for _, id := range []int{1, 2, 3} {
		hs = append(hs, s.Register(mustKey(t, "product", map[string]any{"id": id})))
	}

	require.Equal(t, 1, s.Flush(context.Background()))
	require.True(t, hs[0].Ready())
	require.True(t, hs[1].Ready())
	require.False(t, hs[2].Ready())
	require.Equal(t, 1, s.Pending())

	require.Equal(t, 1, s.Flush(context.Background()))
	require.True(t, hs[2].Ready())
	require.Equal(t, 2, s.Stats().Ticks)
}

func TestMixedShapesRollOver(t *testing.T) {
	fx := newFixture(t)
	s := New(fx.reg)
	byOrder := s.Register(mustKey(t, "order_item", map[string]any{"order_id": 5}))
	byPair := s.Register(mustKey(t, "order_item", map[string]any{"order_id": 6, "product_id": 17}))

	require.Equal(t, 1, s.Flush(context.Background()))
	require.True(t, byOrder.Ready())
	require.False(t, byPair.Ready())
	require.Equal(t, 1, s.Flush(context.Background()))

	rows, err := byOrder.Result()
	require.NoError(t, err)
	require.Equal(t, []any{100, 101}, ids(rows))
	rows, err = byPair.Result()
	require.NoError(t, err)
	require.Equal(t, []any{102}, ids(rows))
}

func TestInvalidKeysFailWithoutStorage(t *testing.T) {
	fx := newFixture(t)
	s := New(fx.reg)
	_, err := s.Register(mustKey(t, "warehouse", map[string]any{"id": 1})).Result()
	require.ErrorIs(t, err, fault.ErrInvalidQuery)
	_, err = s.Register(mustKey(t, "product", map[string]any{"name": "desk"})).Result()
	require.ErrorIs(t, err, fault.ErrInvalidQuery)
	_, err = s.Register(key.Key{}).Result()
	require.ErrorIs(t, err, fault.ErrInvalidQuery)
	require.Zero(t, s.Flush(context.Background()))
}

func TestResultBeforeResolution(t *testing.T) {
	fx := newFixture(t)
	s := New(fx.reg)
	h := s.Register(mustKey(t, "product", map[string]any{"id": 1}))
	_, err := h.Result()
	require.Error(t, err)
	require.False(t, h.Ready())
}

func TestCancelResolvesPending(t *testing.T) {
	defer goleak.VerifyNone(t)
	fx := newFixture(t)
	s := New(fx.reg)
	h := s.Register(mustKey(t, "product", map[string]any{"id": 1}))
	q, err := fx.reg.Query("order")
	require.NoError(t, err)
	qh := s.Submit(q)

	s.Cancel(context.Canceled)
	_, err = h.Result()
	require.ErrorIs(t, err, fault.ErrCancelled)
	_, err = qh.Result()
	require.ErrorIs(t, err, fault.ErrCancelled)

	_, err = s.Register(mustKey(t, "product", map[string]any{"id": 2})).Result()
	require.ErrorIs(t, err, fault.ErrCancelled)
	require.Zero(t, s.Flush(context.Background()))
	require.Zero(t, fx.products.callCount())
}

func TestCancelledContextReachesInFlightFetch(t *testing.T) {
	defer goleak.VerifyNone(t)
	fx := newFixture(t)
	fx.products.block = true
	s := New(fx.reg)
	h := s.Register(mustKey(t, "product", map[string]any{"id": 1}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Flush(ctx)
	}()
	for fx.products.callCount() == 0 {
		select {
		case <-h.Done():
			t.Fatal("resolved before the fetch started")
		default:
		}
	}
	cancel()
	<-done

	_, err := h.Result()
	require.ErrorIs(t, err, fault.ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFlushWithDoneContext(t *testing.T) {
	fx := newFixture(t)
	s := New(fx.reg)
	h := s.Register(mustKey(t, "product", map[string]any{"id": 1}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Zero(t, s.Flush(ctx))
	_, err := h.Wait(context.Background())
	require.ErrorIs(t, err, fault.ErrCancelled)
	require.Zero(t, fx.products.callCount())
}

func TestSubmitDeduplicatesQueries(t *testing.T) {
	fx := newFixture(t)
	s := New(fx.reg)
	base, err := fx.reg.Query("order")
	require.NoError(t, err)
	d, err := base.WithFilter("user_id", query.OpEq, 1)
	require.NoError(t, err)
	same, err := base.WithFilter("user_id", query.OpEq, int64(1))
	require.NoError(t, err)

	a := s.Submit(d)
	b := s.Submit(same)
	c := s.Submit(base.WithLimit(2))
	require.Equal(t, 2, s.Flush(context.Background()))
	require.Equal(t, 2, fx.orders.callCount())

	pa, err := a.Result()
	require.NoError(t, err)
	pb, err := b.Result()
	require.NoError(t, err)
	require.Equal(t, pa, pb)
	require.Equal(t, []any{10, 11}, ids(pa.Records))

	pc, err := c.Result()
	require.NoError(t, err)
	require.Len(t, pc.Records, 2)
	require.True(t, pc.HasMore)
}
