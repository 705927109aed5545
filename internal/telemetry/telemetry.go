// Package telemetry bootstraps OpenTelemetry tracing for both services
// and offers small span helpers for the HTTP and WebSocket call paths
// that are otherwise hard to observe from the outside.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether and where traces are exported. An empty
// Endpoint disables export entirely; spans are still created (cheaply)
// against a no-op tracer so call sites never need to branch on whether
// telemetry is enabled.
type Config struct {
	ServiceName string
	Endpoint    string // OTLP/HTTP collector endpoint, e.g. "localhost:4318"
	Insecure    bool
}

// Shutdown flushes and stops the tracer provider. Safe to call even
// when telemetry was never enabled.
type Shutdown func(context.Context) error

// Init sets the global tracer provider. When cfg.Endpoint is empty it
// leaves the global provider untouched (otel's default no-op provider
// unless one was set elsewhere) and returns a no-op shutdown.
func Init(ctx context.Context, cfg Config) (Shutdown, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	slog.Info("telemetry enabled", "service", cfg.ServiceName, "endpoint", cfg.Endpoint)
	return tp.Shutdown, nil
}

// Tracer returns the named tracer off the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartHTTPSpan starts a client span for an outbound HTTP call.
func StartHTTPSpan(ctx context.Context, tracer trace.Tracer, method, url string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "http."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", url),
		),
	)
}

// EndHTTPSpan records the response status (or error) and ends span.
func EndHTTPSpan(span trace.Span, statusCode int, err error) {
	if err != nil {
		span.RecordError(err)
	} else {
		span.SetAttributes(attribute.Int("http.status_code", statusCode))
	}
	span.End()
}

// StartSocketSpan starts a span for a Socket.IO/WebSocket operation
// (connect, emit, ack wait).
func StartSocketSpan(ctx context.Context, tracer trace.Tracer, operation, event string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "socket."+operation,
		trace.WithAttributes(attribute.String("socket.event", event)),
	)
}

// EndSpan ends span, recording err if non-nil. A convenience for the
// common "defer telemetry.EndSpan(span, &err)" pattern.
func EndSpan(span trace.Span, err *error) {
	if err != nil && *err != nil {
		span.RecordError(*err)
	}
	span.End()
}

// RecordDuration is a small helper for call sites that want to attach a
// wall-clock duration attribute without spanning the whole call.
func RecordDuration(span trace.Span, name string, d time.Duration) {
	span.SetAttributes(attribute.Int64(name+"_ms", d.Milliseconds()))
}
