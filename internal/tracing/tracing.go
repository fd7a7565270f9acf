// Package tracing provides a minimal OpenTelemetry tracer for the CLI's
// top-level operations. Grounded on haasonsaas-nexus's
// internal/observability.Tracer, narrowed to the in-process span shape this
// module needs: no OTLP exporter is wired (this module has no collector
// endpoint configuration surface and no otlptrace/otlptracegrpc dependency
// in its stack), so NewTracer always builds a local TracerProvider with no
// span processor registered: spans are created but neither kept nor shipped
// anywhere. A caller that
// wants real export can register its own span processor on the returned
// provider.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config names the service emitting spans.
type Config struct {
	ServiceName    string
	ServiceVersion string
}

// Tracer wraps a trace.Tracer bound to Config's service identity.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer builds a Tracer and returns a shutdown function that flushes
// and releases the underlying provider. Safe to call with a zero Config;
// ServiceName defaults to "lace".
func NewTracer(cfg Config) (*Tracer, func(context.Context) error) {
	name := cfg.ServiceName
	if name == "" {
		name = "lace"
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(provider)

	return &Tracer{tracer: provider.Tracer(name)}, provider.Shutdown
}

// StartSpan starts a span named name as a child of any span already in ctx.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Start begins a span on the global TracerProvider, for packages deep in the
// call tree (agent loop, tool executor, thread store) that have no Tracer
// value to thread through their constructors. Before NewTracer installs a
// real provider this is otel's default no-op tracer, so calling it in tests
// or any binary that never constructs a Tracer is free and harmless.
func Start(ctx context.Context, instrumentationName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError marks span as failed and attaches err, if non-nil.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
