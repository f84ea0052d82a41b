package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/fetchgraph/internal/eventbus"
	events "github.com/hanpama/fetchgraph/internal/events"
	runid "github.com/hanpama/fetchgraph/internal/runid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
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

	sub := &subscriber{tracer: otel.Tracer("fetchgraph")}
	sub.register()

	return tp.Shutdown, nil
}

// subscriber maps run and fetch events onto spans. A run span opens at
// RunStart and closes on the first terminal event (done, error or abort);
// readiness lands on it as a span event, so the ready and done timers both
// read off the run span. Fetch spans nest under the run that started them.
type subscriber struct {
	tracer     trace.Tracer
	runSpans   sync.Map // run ID -> trace.Span
	fetchSpans sync.Map // query ID -> trace.Span
}

func (s *subscriber) register() {
	eventbus.Subscribe(func(ctx context.Context, e events.RunStart) {
		_, span := s.tracer.Start(ctx, "fetchgraph.run")
		span.SetAttributes(
			attribute.String("fetchgraph.mode", e.Mode),
			attribute.Int("fetchgraph.queries", e.Queries),
		)
		s.runSpans.Store(e.RunID, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.RunReady) {
		v, ok := s.runSpans.Load(e.RunID)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.AddEvent("ready", trace.WithAttributes(attribute.Bool("fetchgraph.stale", e.Stale)))
	})

	eventbus.Subscribe(func(ctx context.Context, e events.RunDone) {
		s.endRun(e.RunID, nil)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.RunError) {
		s.endRun(e.RunID, e.Err)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.RunAbort) {
		v, ok := s.runSpans.LoadAndDelete(e.RunID)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.Bool("fetchgraph.aborted", true))
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.FetchStart) {
		parent := ctx
		if rid, ok := runid.FromContext(ctx); ok {
			if v, ok := s.runSpans.Load(rid); ok {
				parent = trace.ContextWithSpan(ctx, v.(trace.Span))
			}
		}
		_, span := s.tracer.Start(parent, "fetchgraph.fetch")
		span.SetAttributes(
			attribute.String("fetchgraph.query.id", e.QueryID),
			attribute.String("fetchgraph.query.name", e.QueryName),
			attribute.String("fetchgraph.mode", e.Mode),
		)
		s.fetchSpans.Store(e.QueryID, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.FetchFinish) {
		v, ok := s.fetchSpans.LoadAndDelete(e.QueryID)
		if !ok {
			return
		}
		span := v.(trace.Span)
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.DeferFallback) {
		if rid, ok := runid.FromContext(ctx); ok {
			if v, ok := s.runSpans.Load(rid); ok {
				v.(trace.Span).AddEvent("defer-fallback",
					trace.WithAttributes(attribute.String("fetchgraph.query.id", e.QueryID)))
			}
		}
	})
}

func (s *subscriber) endRun(runID int64, err error) {
	v, ok := s.runSpans.LoadAndDelete(runID)
	if !ok {
		return
	}
	span := v.(trace.Span)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
