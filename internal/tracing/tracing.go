// Package tracing wraps OpenTelemetry span creation the way the teacher's
// Tracer field is threaded through its API/image-processor constructors:
// a thin wrapper that is always non-nil, defaulting to a no-op provider so
// callers never need a nil check.
package tracing

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/teacup-imaging/imagepipeline/internal/logger"
)

// Tracer opens spans around task execution stages.
type Tracer struct {
	provider oteltrace.TracerProvider
	tracer   oteltrace.Tracer
	log      *logger.Logger
}

// New builds a Tracer backed by a real OpenTelemetry SDK TracerProvider.
// Callers that want a real exporter should construct the provider
// themselves (the exporter battery varies per deployment) and pass it here.
func New(log *logger.Logger, provider *sdktrace.TracerProvider) *Tracer {
	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer("github.com/teacup-imaging/imagepipeline"),
		log:      log,
	}
}

// Noop returns a Tracer that records nothing, mirroring the teacher's
// tracing/test.Tracer(log) fallback used when no exporter is configured.
func Noop(log *logger.Logger) *Tracer {
	provider := oteltrace.NewNoopTracerProvider()
	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer("noop"),
		log:      log,
	}
}

// StartSpan opens a span named after the task kind and coalescing key. The
// returned function must be called to end the span.
func (t *Tracer) StartSpan(ctx context.Context, name string) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

// TraceInfo extracts trace/span IDs from ctx for log correlation, mirroring
// the teacher's tracing.TraceInfo(ctx) helper used by handler.Logger and
// handler.Recovery.
func TraceInfo(ctx context.Context) (traceID, spanID string) {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
