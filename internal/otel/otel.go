// Package otel turns engine events into OpenTelemetry spans.
//
// Spans nest as http.request > graphql.execution > batch.flush, with one
// storage.fetch span per entity fetch and one store.call span per remote
// call under the flush of their tick.
package otel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanpama/graphload/internal/eventbus"
	"github.com/hanpama/graphload/internal/events"
	"github.com/hanpama/graphload/internal/reqid"
)

const instrumentation = "github.com/hanpama/graphload"

// Setup configures an OTLP exporter and attaches the span subscribers to the
// global event bus. If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	detach := Attach(tp)
	return func(ctx context.Context) error {
		detach()
		return tp.Shutdown(ctx)
	}, nil
}

// Attach subscribes span recorders for tp and returns a function removing
// them.
func Attach(tp trace.TracerProvider) (detach func()) {
	s := &subscriber{tracer: tp.Tracer(instrumentation)}
	return s.register()
}

type subscriber struct {
	tracer     trace.Tracer
	httpSpans  sync.Map // rid -> trace.Span
	execSpans  sync.Map // rid -> trace.Span
	flushSpans sync.Map // rid/tick -> trace.Span
}

func flushKey(rid string, tick int) string { return fmt.Sprintf("%s/%d", rid, tick) }

// parent returns ctx carrying the innermost open span of the request.
func (s *subscriber) parent(ctx context.Context, maps ...*sync.Map) context.Context {
	rid, _ := reqid.FromContext(ctx)
	for _, m := range maps {
		if v, ok := m.Load(rid); ok {
			return trace.ContextWithSpan(ctx, v.(trace.Span))
		}
	}
	return ctx
}

func end(m *sync.Map, key string, fn func(trace.Span)) {
	v, ok := m.LoadAndDelete(key)
	if !ok {
		return
	}
	span := v.(trace.Span)
	fn(span)
	span.End()
}

// retro records a span that finished now after running for d.
func (s *subscriber) retro(parent context.Context, name string, d time.Duration, err error, attrs ...attribute.KeyValue) {
	now := time.Now()
	_, span := s.tracer.Start(parent, name, trace.WithTimestamp(now.Add(-d)), trace.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End(trace.WithTimestamp(now))
}

func (s *subscriber) register() func() {
	unsubs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
			_, span := s.tracer.Start(ctx, "http.request", trace.WithSpanKind(trace.SpanKindServer))
			span.SetAttributes(
				semconv.HTTPMethodKey.String(e.Request.Method),
				attribute.String("http.target", e.Request.URL.Path),
				attribute.String("request.id", e.RequestID),
			)
			s.httpSpans.Store(e.RequestID, span)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
			end(&s.httpSpans, e.RequestID, func(span trace.Span) {
				span.SetAttributes(
					semconv.HTTPStatusCodeKey.Int(e.Status),
					attribute.Int("graphql.operations", e.Operations),
				)
				if e.Status >= 500 {
					span.SetStatus(codes.Error, "")
				}
			})
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.ExecutionStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(s.parent(ctx, &s.httpSpans), "graphql.execution")
			span.SetAttributes(
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphql.document", e.Query),
			)
			s.execSpans.Store(rid, span)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.ExecutionFinish) {
			rid, _ := reqid.FromContext(ctx)
			end(&s.execSpans, rid, func(span trace.Span) {
				span.SetAttributes(
					attribute.Int("graphql.error_count", len(e.Errors)),
					attribute.Int("graphql.ticks", e.Ticks),
				)
				if len(e.Errors) > 0 {
					span.SetStatus(codes.Error, e.Errors[0].Error())
				}
			})
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.FlushStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(s.parent(ctx, &s.execSpans, &s.httpSpans), "batch.flush")
			span.SetAttributes(
				attribute.Int("batch.tick", e.Tick),
				attribute.Int("batch.batches", e.Batches),
				attribute.Int("batch.queries", e.Queries),
			)
			s.flushSpans.Store(flushKey(rid, e.Tick), span)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.FlushFinish) {
			rid, _ := reqid.FromContext(ctx)
			end(&s.flushSpans, flushKey(rid, e.Tick), func(span trace.Span) {
				span.SetAttributes(
					attribute.Int("batch.calls", e.Calls),
					attribute.Int("batch.failed", e.Failed),
				)
				if e.Failed > 0 {
					span.SetStatus(codes.Error, fmt.Sprintf("%d storage calls failed", e.Failed))
				}
			})
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.FetchFinish) {
			s.retro(s.flushParent(ctx, e.Tick), "storage.fetch", e.Duration, e.Err,
				attribute.String("storage.entity", e.Entity),
				attribute.Int("storage.keys", e.Keys),
				attribute.Int("storage.rows", e.Rows),
			)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.StoreCallFinish) {
			s.retro(s.parent(ctx, &s.execSpans, &s.httpSpans), "store.call", e.Duration, e.Err,
				semconv.RPCSystemGRPC,
				semconv.RPCGRPCStatusCodeKey.Int(int(e.Code)),
				attribute.String("net.peer.name", e.Target),
				attribute.String("storage.entity", e.Entity),
				attribute.Int("storage.rows", e.Rows),
			)
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (s *subscriber) flushParent(ctx context.Context, tick int) context.Context {
	rid, _ := reqid.FromContext(ctx)
	if v, ok := s.flushSpans.Load(flushKey(rid, tick)); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	return s.parent(ctx, &s.execSpans, &s.httpSpans)
}
