package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jensneuse/abstractlogger"
	"google.golang.org/grpc/metadata"

	"github.com/hanpama/graphload/internal/eventbus"
	"github.com/hanpama/graphload/internal/events"
	"github.com/hanpama/graphload/internal/executor"
	"github.com/hanpama/graphload/internal/reqid"
)

// Handler serves GraphQL over HTTP. Each operation of a request gets its own
// execution, and so its own batch scheduler and cache.
type Handler struct {
	exec *executor.Executor
	opt  Options
	cors *cors
	docs *lru.Cache[uint64, *executor.Document]
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// MaxBatchOperations limits the operations of a batched request. 0 means
	// unlimited.
	MaxBatchOperations int

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// MetadataHeaders lists HTTP headers to forward into outgoing gRPC
	// metadata, reaching remote stores. Header names are case-insensitive.
	MetadataHeaders []string

	// DocumentCache is the number of parsed documents kept. 0 disables it.
	DocumentCache int

	// Stats adds execution statistics to the response extensions.
	Stats bool

	// Identity extracts the caller identity handed to resolvers.
	Identity func(*http.Request) any

	Logger abstractlogger.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option  { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                  { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option     { return func(o *Options) { o.MaxBodyBytes = n } }
func WithDocumentCache(n int) Option      { return func(o *Options) { o.DocumentCache = n } }
func WithMaxBatchOperations(n int) Option { return func(o *Options) { o.MaxBatchOperations = n } }
func WithStats() Option                   { return func(o *Options) { o.Stats = true } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithMetadataHeaders(headers ...string) Option {
	return func(o *Options) { o.MetadataHeaders = headers }
}
func WithIdentity(fn func(*http.Request) any) Option {
	return func(o *Options) { o.Identity = fn }
}
func WithLogger(l abstractlogger.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// New creates a GraphQL HTTP handler over exec.
func New(exec *executor.Executor, opts ...Option) (*Handler, error) {
	op := Options{Timeout: 10 * time.Second, Logger: abstractlogger.NoopLogger}
	for _, f := range opts {
		f(&op)
	}
	h := &Handler{exec: exec, opt: op, cors: newCORS(op.CORS)}
	if op.DocumentCache > 0 {
		docs, err := lru.New[uint64, *executor.Document](op.DocumentCache)
		if err != nil {
			return nil, err
		}
		h.docs = docs
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, rid := reqid.WithID(ctx, r.Header.Get(reqid.Header))
	w.Header().Set(reqid.Header, rid)
	status := http.StatusOK
	operations := 0
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r, RequestID: rid})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{
			Request:    r,
			RequestID:  rid,
			Status:     status,
			Operations: operations,
			Duration:   time.Since(start),
		})
	}()

	h.cors.apply(w, r)
	if r.Method == http.MethodOptions {
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse(reject(status, "method not allowed").err), h.opt.Pretty)
		return
	}

	p, bad := readPayload(w, r, h.opt.MaxBodyBytes, h.opt.MaxBatchOperations)
	if bad != nil {
		status = bad.status
		writeJSON(w, status, errorResponse(bad.err), h.opt.Pretty)
		return
	}

	ctx = metadata.NewOutgoingContext(ctx, h.outgoing(r, rid))
	var identity any
	if h.opt.Identity != nil {
		identity = h.opt.Identity(r)
	}

	operations = len(p.ops)
	out := make([]*executor.ExecutionResult, len(p.ops))
	for i, op := range p.ops {
		out[i] = h.executeOne(ctx, op, identity)
	}
	if p.batch {
		writeJSON(w, status, out, h.opt.Pretty)
		return
	}
	writeJSON(w, status, out[0], h.opt.Pretty)
}

// outgoing builds the gRPC metadata forwarded to remote stores: the
// configured headers and the request id.
func (h *Handler) outgoing(r *http.Request, rid string) metadata.MD {
	md := metadata.MD{}
	for _, name := range h.opt.MetadataHeaders {
		if v := r.Header.Values(name); len(v) > 0 {
			md[strings.ToLower(name)] = v
		}
	}
	md[strings.ToLower(reqid.Header)] = []string{rid}
	return md
}

func (h *Handler) executeOne(ctx context.Context, req GraphQLRequest, identity any) *executor.ExecutionResult {
	doc, err := h.document(req.Query)
	if err != nil {
		return executor.Failed(err)
	}
	op, err := doc.Operation(req.OperationName, req.Variables, executor.WithinLimits(h.exec.Limits()))
	if err != nil {
		return executor.Failed(err)
	}
	res := h.exec.Execute(ctx, op, identity)
	if !h.opt.Stats && res.Extensions != nil {
		delete(res.Extensions, "stats")
		if len(res.Extensions) == 0 {
			res.Extensions = nil
		}
	}
	if len(res.Errors) > 0 {
		h.opt.Logger.Debug("server.Handler.executeOne",
			abstractlogger.String("operation", op.Name),
			abstractlogger.Int("errors", len(res.Errors)),
			abstractlogger.String("first_error", res.Errors[0].Message),
		)
	}
	return res
}

// document parses src, consulting the document cache first.
func (h *Handler) document(src string) (*executor.Document, error) {
	if h.docs == nil {
		return executor.ParseDocument(src)
	}
	sum := xxhash.Sum64String(src)
	if d, ok := h.docs.Get(sum); ok && d.Source() == src {
		return d, nil
	}
	d, err := executor.ParseDocument(src)
	if err != nil {
		return nil, err
	}
	h.docs.Add(sum, d)
	return d, nil
}

