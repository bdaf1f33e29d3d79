package grpcstore

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jensneuse/abstractlogger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hanpama/graphload/internal/eventbus"
	"github.com/hanpama/graphload/internal/events"
	"github.com/hanpama/graphload/internal/fault"
	"github.com/hanpama/graphload/internal/query"
)

// Client is a pooled gRPC client of the store service. Its Fetch method is a
// query.FetchFunc.
type Client struct {
	opts *Options

	mu     sync.RWMutex
	pools  map[string]*connPool // key: endpoint
	closed atomic.Bool
	seq    atomic.Uint64
}

func NewClient(opts ...Option) *Client {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if len(o.DialOptions) == 0 {
		o.DialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		}
	}
	return &Client{opts: o, pools: make(map[string]*connPool)}
}

var _ query.FetchFunc = (*Client)(nil).Fetch

// Fetch ships d to a store endpoint and returns its records.
func (c *Client) Fetch(ctx context.Context, d query.Descriptor) ([]query.Record, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.opts.Provider == nil {
		return nil, fmt.Errorf("grpcstore: provider not configured")
	}
	req, err := encodeSpec(d.Spec())
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok && c.opts.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RPCTimeout)
		defer cancel()
	}
	ctx = metadata.AppendToOutgoingContext(ctx, "x-graphload-entity", d.Entity())

	endpoints, err := c.opts.Provider.Endpoints(ctx, ServiceName)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	endpoint := endpoints[rand.Intn(len(endpoints))]

	cc, err := c.getConn(endpoint)
	if err != nil {
		return nil, err
	}
	defer c.returnConn(endpoint, cc)

	call := c.seq.Add(1)
	start := time.Now()
	eventbus.Publish(ctx, events.StoreCallStart{Call: call, Entity: d.Entity(), Target: endpoint, Batch: d.IsBatch()})
	recs, err := c.invoke(ctx, cc, req)
	eventbus.Publish(ctx, events.StoreCallFinish{
		Call:     call,
		Entity:   d.Entity(),
		Target:   endpoint,
		Rows:     len(recs),
		Code:     status.Code(err),
		Err:      err,
		Duration: time.Since(start),
	})
	if err != nil {
		c.opts.Logger.Debug("grpcstore.Client.Fetch",
			abstractlogger.String("entity", d.Entity()),
			abstractlogger.String("target", endpoint),
			abstractlogger.Error(err),
		)
		return nil, fromStatus(d.Entity(), err)
	}
	return recs, nil
}

func (c *Client) invoke(ctx context.Context, cc *grpc.ClientConn, req *structpb.Struct) ([]query.Record, error) {
	resp := new(structpb.Struct)
	if err := cc.Invoke(ctx, fetchMethod, req, resp); err != nil {
		return nil, err
	}
	return decodeRecords(resp)
}

// fromStatus restores the error kind a status carries.
func fromStatus(entity string, err error) error {
	s, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch s.Code() {
	case codes.InvalidArgument:
		return fault.InvalidQuery(entity, "%s", s.Message())
	case codes.Canceled, codes.DeadlineExceeded:
		return fault.Cancelled(err)
	}
	return fault.FetchFailed(entity, err)
}

func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pools {
		p.close()
	}
	c.pools = map[string]*connPool{}
	return nil
}

type connPool struct {
	endpoint string
	opts     *Options
	conns    chan *grpc.ClientConn
	mu       sync.Mutex
	closed   bool
}

func newConnPool(endpoint string, opts *Options) *connPool {
	n := opts.MaxConnsPerEndpoint
	if n <= 0 {
		n = 2
	}
	return &connPool{endpoint: endpoint, opts: opts, conns: make(chan *grpc.ClientConn, n)}
}

func (p *connPool) get() (*grpc.ClientConn, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	select {
	case cc := <-p.conns:
		return cc, nil
	default:
		return grpc.NewClient(p.endpoint, p.opts.DialOptions...)
	}
}

func (p *connPool) put(cc *grpc.ClientConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = cc.Close()
		return
	}
	select {
	case p.conns <- cc:
	default:
		_ = cc.Close()
	}
}

func (p *connPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.conns)
	for cc := range p.conns {
		_ = cc.Close()
	}
}

func (c *Client) getConn(endpoint string) (*grpc.ClientConn, error) {
	c.mu.RLock()
	pool := c.pools[endpoint]
	c.mu.RUnlock()
	if pool == nil {
		c.mu.Lock()
		if c.closed.Load() {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		pool = c.pools[endpoint]
		if pool == nil {
			pool = newConnPool(endpoint, c.opts)
			c.pools[endpoint] = pool
		}
		c.mu.Unlock()
	}
	return pool.get()
}

func (c *Client) returnConn(endpoint string, cc *grpc.ClientConn) {
	c.mu.RLock()
	pool := c.pools[endpoint]
	c.mu.RUnlock()
	if pool != nil {
		pool.put(cc)
		return
	}
	_ = cc.Close()
}
