// Package tracing provides OpenTelemetry span helpers for the Session
// Runtime's turn pipeline, the Task State Manager's mutations, and the
// Engine Driver's calls (SPEC_FULL.md §4 additions to spec.md's ambient
// stack; spec.md itself names no observability layer). No other package
// in this repository calls Init or the span helpers.
//
// Grounded on the teacher's internal/tracing.Collector /
// agent/loop_tracing.go emit-span-with-duration-and-status shape —
// generalized from its bespoke DB-backed span store to the real
// go.opentelemetry.io/otel SDK, since squad is a standalone module
// with no equivalent trace-store table to write spans into.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Protocol selects the OTLP exporter transport.
type Protocol string

const (
	ProtocolGRPC Protocol = "grpc"
	ProtocolHTTP Protocol = "http"
)

// Config configures Init.
type Config struct {
	ServiceName string
	Endpoint    string // host:port, no scheme
	Protocol    Protocol
	Insecure    bool
}

// Init installs a global TracerProvider exporting to an OTLP collector
// and returns a shutdown func to flush and release it at process exit.
// If cfg.Endpoint is empty, tracing is a no-op (spans are created but
// never exported) so squad runs without an operator having configured
// a collector.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Protocol {
	case ProtocolHTTP:
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
	default:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("tracing: create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

var tracer = otel.Tracer("github.com/nextlevelbuilder/squad")

// StartTurnSpan opens a span for one enqueued Turn (spec.md §4.1),
// tagged with the team/role/kind so a dispatch chain from enqueue to
// Engine Driver consumption is traceable end to end.
func StartTurnSpan(ctx context.Context, teamID, role, kind string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "session.turn",
		trace.WithAttributes(
			attribute.String("squad.team_id", teamID),
			attribute.String("squad.role", role),
			attribute.String("squad.turn_kind", kind),
		))
}

// StartTaskMutationSpan opens a span for one Task State Manager
// mutation (spec.md §4.2), named "tasks.<op>" and tagged with the team
// id and task id.
func StartTaskMutationSpan(ctx context.Context, teamID, taskID, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tasks."+op,
		trace.WithAttributes(
			attribute.String("squad.team_id", teamID),
			attribute.String("squad.task_id", taskID),
		))
}

// EndWithStatus records err (if any) on span and ends it, matching
// the teacher's emit-span-with-duration-and-status idiom.
func EndWithStatus(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// StartEngineCallSpan opens a span for one Engine Driver dispatch
// (spec.md §4.6), tagged with the tool name for tool-call events.
func StartEngineCallSpan(ctx context.Context, teamID, tool string) (context.Context, trace.Span) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "engine.call",
		trace.WithAttributes(
			attribute.String("squad.team_id", teamID),
			attribute.String("squad.tool", tool),
		))
	span.SetAttributes(attribute.Int64("squad.started_unix_ms", start.UnixMilli()))
	return ctx, span
}
