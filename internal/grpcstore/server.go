// Package grpcstore ships storage calls over gRPC. Server exposes the fetch
// functions of a registry; Client is a query.FetchFunc that calls it.
package grpcstore

import (
	"context"
	"errors"
	"time"

	"github.com/jensneuse/abstractlogger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hanpama/graphload/internal/fault"
	"github.com/hanpama/graphload/internal/query"
)

const (
	ServiceName = "graphload.store.v1.Store"
	fetchMethod = "/" + ServiceName + "/Fetch"
)

type storeServer interface {
	Fetch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*storeServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Fetch",
		Handler:    fetchHandler,
	}},
	Metadata: "graphload/store/v1/store.proto",
}

func fetchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(storeServer).Fetch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fetchMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(storeServer).Fetch(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Server answers Fetch calls from the entity types of a registry.
type Server struct {
	reg *query.Registry
	log abstractlogger.Logger
}

type ServerOption func(*Server)

func WithServerLogger(l abstractlogger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

func NewServer(reg *query.Registry, opts ...ServerOption) *Server {
	s := &Server{reg: reg, log: abstractlogger.NoopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register attaches the store service to gs.
func (s *Server) Register(gs grpc.ServiceRegistrar) { gs.RegisterService(&serviceDesc, s) }

// Fetch rebuilds the descriptor from the request, re-validating it against
// the local registry, and runs the entity's fetch function.
func (s *Server) Fetch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	start := time.Now()
	spec, err := decodeSpec(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	d, err := s.reg.FromSpec(spec)
	if err != nil {
		return nil, toStatus(err)
	}
	recs, err := d.EntityType().Fetch(ctx, d)
	if err != nil {
		s.log.Warn("grpcstore.Server.Fetch",
			abstractlogger.String("entity", spec.Entity),
			abstractlogger.Error(err),
		)
		return nil, toStatus(err)
	}
	out, err := encodeRecords(recs)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	s.log.Debug("grpcstore.Server.Fetch",
		abstractlogger.String("entity", spec.Entity),
		abstractlogger.Int("rows", len(recs)),
		abstractlogger.String("duration", time.Since(start).String()),
	)
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	switch fault.KindOf(err) {
	case fault.KindInvalidQuery, fault.KindStaleCursor:
		return status.Error(codes.InvalidArgument, err.Error())
	case fault.KindCancelled:
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Unavailable, err.Error())
}
