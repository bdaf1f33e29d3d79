package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jensneuse/abstractlogger"
	"google.golang.org/grpc"

	"github.com/hanpama/graphload/internal/catalog"
	"github.com/hanpama/graphload/internal/config"
	"github.com/hanpama/graphload/internal/grpcstore"
	"github.com/hanpama/graphload/internal/memstore"
)

func storeSettings() *settings {
	s := newSettings("store", storeUsage)
	bind(s, "store.addr", "gRPC listen address", s.fs.StringVar, func(c *config.Config) *string { return &c.Store.Addr })
	return s
}

// cmdStore serves the seeded in-memory catalog over gRPC until ctx ends.
func cmdStore(ctx context.Context, args []string) error {
	cfg, err := storeSettings().resolve(args)
	if err != nil {
		return err
	}
	log, zl, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	st := memstore.New()
	catalog.Seed(st)
	if err := catalog.Register(reg, st.Fetch); err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.Store.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	gs := grpc.NewServer()
	grpcstore.NewServer(reg, grpcstore.WithServerLogger(log)).Register(gs)

	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()
	log.Info("graphload.store", abstractlogger.String("addr", lis.Addr().String()))
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
