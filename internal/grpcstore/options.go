package grpcstore

import (
	"time"

	"github.com/jensneuse/abstractlogger"
	"google.golang.org/grpc"
)

// Options configures the client.
//
// Defaults:
//   - MaxConnsPerEndpoint: 2
//   - RPCTimeout:          3s (only when the incoming context has no deadline)
//   - DialOptions:         insecure credentials
//
// A client without a Provider fails every call.
type Options struct {
	Provider EndpointProvider

	MaxConnsPerEndpoint int
	RPCTimeout          time.Duration

	DialOptions []grpc.DialOption
	Logger      abstractlogger.Logger
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MaxConnsPerEndpoint: 2,
		RPCTimeout:          3 * time.Second,
		Logger:              abstractlogger.NoopLogger,
	}
}

func WithProvider(p EndpointProvider) Option { return func(o *Options) { o.Provider = p } }
func WithMaxConnsPerEndpoint(n int) Option   { return func(o *Options) { o.MaxConnsPerEndpoint = n } }
func WithRPCTimeout(d time.Duration) Option  { return func(o *Options) { o.RPCTimeout = d } }
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *Options) { o.DialOptions = opts }
}

// WithLogger sets the logger for connection and call diagnostics; nil keeps the default.
func WithLogger(l abstractlogger.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}
