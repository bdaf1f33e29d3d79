package otel

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hanpama/graphload/internal/eventbus"
	"github.com/hanpama/graphload/internal/events"
	"github.com/hanpama/graphload/internal/reqid"
)

func TestSetup_NoEndpoint(t *testing.T) {
	shutdown, err := Setup("", "graphload")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestAttach_NestsSpans(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	detach := Attach(tp)

	ctx, rid := reqid.NewContext(context.Background())
	r := httptest.NewRequest("POST", "/graphql", nil)
	eventbus.Publish(ctx, events.HTTPStart{Request: r, RequestID: rid})
	eventbus.Publish(ctx, events.ExecutionStart{OperationName: "Q"})
	eventbus.Publish(ctx, events.FlushStart{Tick: 1, Batches: 2})
	eventbus.Publish(ctx, events.FetchFinish{Tick: 1, Entity: "user", Keys: 2, Rows: 2, Duration: time.Millisecond})
	eventbus.Publish(ctx, events.FetchFinish{Tick: 1, Entity: "order", Err: errors.New("boom"), Duration: time.Millisecond})
	eventbus.Publish(ctx, events.FlushFinish{Tick: 1, Calls: 2, Failed: 1})
	eventbus.Publish(ctx, events.ExecutionFinish{OperationName: "Q", Errors: []error{errors.New("boom")}, Ticks: 1})
	eventbus.Publish(ctx, events.HTTPFinish{Request: r, RequestID: rid, Status: 200, Operations: 1})

	detach()
	eventbus.Publish(ctx, events.FlushStart{Tick: 2})

	ended := rec.Ended()
	require.Len(t, ended, 5)
	byName := map[string][]sdktrace.ReadOnlySpan{}
	for _, s := range ended {
		byName[s.Name()] = append(byName[s.Name()], s)
	}
	httpSpan := byName["http.request"][0]
	exec := byName["graphql.execution"][0]
	flush := byName["batch.flush"][0]
	require.Equal(t, httpSpan.SpanContext().SpanID(), exec.Parent().SpanID())
	require.Equal(t, exec.SpanContext().SpanID(), flush.Parent().SpanID())
	require.Len(t, byName["storage.fetch"], 2)
	for _, f := range byName["storage.fetch"] {
		require.Equal(t, flush.SpanContext().SpanID(), f.Parent().SpanID())
		require.Equal(t, httpSpan.SpanContext().TraceID(), f.SpanContext().TraceID())
	}
	require.Empty(t, rec.Started()[len(ended):], "no spans after detach")
}
