package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jensneuse/abstractlogger"

	"github.com/hanpama/graphload/internal/catalog"
	"github.com/hanpama/graphload/internal/config"
	"github.com/hanpama/graphload/internal/eventbus"
	"github.com/hanpama/graphload/internal/grpcstore"
	"github.com/hanpama/graphload/internal/memstore"
	"github.com/hanpama/graphload/internal/otel"
	"github.com/hanpama/graphload/internal/query"
	"github.com/hanpama/graphload/internal/server"
)

const shutdownGrace = 5 * time.Second

func serveSettings() *settings {
	s := newSettings("serve", serveUsage)
	fs := s.fs
	bind(s, "server.addr", "HTTP listen address", fs.StringVar, func(c *config.Config) *string { return &c.Server.Addr })
	bind(s, "server.pretty", "Pretty-print JSON responses", fs.BoolVar, func(c *config.Config) *bool { return &c.Server.Pretty })
	bind(s, "server.timeout", "Per-request timeout", fs.DurationVar, func(c *config.Config) *time.Duration { return &c.Server.Timeout })
	bind(s, "server.max-body-bytes", "Largest request body", fs.Int64Var, func(c *config.Config) *int64 { return &c.Server.MaxBodyBytes })
	bind(s, "server.document-cache", "Parsed documents kept", fs.IntVar, func(c *config.Config) *int { return &c.Server.DocumentCache })
	bind(s, "server.max-batch-operations", "Operations per batched request", fs.IntVar, func(c *config.Config) *int { return &c.Server.MaxBatchOperations })
	bind(s, "server.stats", "Report execution statistics", fs.BoolVar, func(c *config.Config) *bool { return &c.Server.Stats })
	s.list("server.cors-origin", "Allowed CORS origin", func(c *config.Config) *[]string { return &c.Server.CORSOrigins })
	s.list("server.metadata-header", "Forward HTTP header to gRPC metadata", func(c *config.Config) *[]string { return &c.Server.MetadataHeaders })
	bind(s, "limits.max-batch-keys", "Keys per storage call", fs.IntVar, func(c *config.Config) *int { return &c.Limits.MaxBatchKeys })
	bind(s, "limits.max-ticks", "Scheduler ticks per request", fs.IntVar, func(c *config.Config) *int { return &c.Limits.MaxTicks })
	bind(s, "limits.parallelism", "Concurrent resolvers per wave", fs.IntVar, func(c *config.Config) *int { return &c.Limits.Parallelism })
	bind(s, "limits.flush-concurrency", "Storage calls in flight per tick", fs.IntVar, func(c *config.Config) *int { return &c.Limits.FlushConcurrency })
	bind(s, "storage.backend", "memory or grpc", fs.StringVar, func(c *config.Config) *string { return &c.Storage.Backend })
	s.list("storage.endpoint", "gRPC store endpoint", func(c *config.Config) *[]string { return &c.Storage.Endpoints })
	bind(s, "storage.max-conns-per-endpoint", "Max conns per endpoint", fs.IntVar, func(c *config.Config) *int { return &c.Storage.MaxConnsPerEndpoint })
	bind(s, "storage.rpc-timeout", "RPC timeout", fs.DurationVar, func(c *config.Config) *time.Duration { return &c.Storage.RPCTimeout })
	bind(s, "otel.endpoint", "OTLP collector endpoint", fs.StringVar, func(c *config.Config) *string { return &c.OTel.Endpoint })
	bind(s, "otel.service", "OpenTelemetry service name", fs.StringVar, func(c *config.Config) *string { return &c.OTel.Service })
	return s
}

func cmdServe(ctx context.Context, args []string) error {
	cfg, err := serveSettings().resolve(args)
	if err != nil {
		return err
	}
	log, zl, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(cfg.OTel.Endpoint, cfg.OTel.Service)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	fetch, closeStore, err := storage(cfg.Storage, log)
	if err != nil {
		return err
	}
	defer closeStore()

	h, err := newHandler(cfg, fetch, log)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/graphql", h)
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("graphload.serve",
		abstractlogger.String("addr", cfg.Server.Addr),
		abstractlogger.String("storage", cfg.Storage.Backend),
	)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("graphload.serve", abstractlogger.String("message", "shutting down"))
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newHandler builds the GraphQL handler over the catalog.
func newHandler(cfg config.Config, fetch query.FetchFunc, log abstractlogger.Logger) (*server.Handler, error) {
	exec, err := newExecutor(cfg, fetch, log)
	if err != nil {
		return nil, err
	}
	sopts := []server.Option{
		server.WithTimeout(cfg.Server.Timeout),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithDocumentCache(cfg.Server.DocumentCache),
		server.WithMaxBatchOperations(cfg.Server.MaxBatchOperations),
		server.WithLogger(log),
	}
	if cfg.Server.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if cfg.Server.Stats {
		sopts = append(sopts, server.WithStats())
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(cfg.Server.CORSOrigins...))
	}
	if len(cfg.Server.MetadataHeaders) > 0 {
		sopts = append(sopts, server.WithMetadataHeaders(cfg.Server.MetadataHeaders...))
	}
	h, err := server.New(exec, sopts...)
	if err != nil {
		return nil, fmt.Errorf("server init: %w", err)
	}
	return h, nil
}

// storage returns the fetch function of the configured backend.
func storage(c config.Storage, log abstractlogger.Logger) (query.FetchFunc, func(), error) {
	switch c.Backend {
	case config.BackendMemory:
		st := memstore.New()
		catalog.Seed(st)
		return st.Fetch, func() {}, nil
	case config.BackendGRPC:
		opts := []grpcstore.Option{
			grpcstore.WithProvider(grpcstore.Endpoints(c.Endpoints...)),
			grpcstore.WithMaxConnsPerEndpoint(c.MaxConnsPerEndpoint),
			grpcstore.WithLogger(log),
		}
		if c.RPCTimeout > 0 {
			opts = append(opts, grpcstore.WithRPCTimeout(c.RPCTimeout))
		}
		client := grpcstore.NewClient(opts...)
		return client.Fetch, func() { _ = client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", c.Backend)
}
