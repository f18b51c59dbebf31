package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the saga engine tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("sagaflow")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
//
// Spans are local to this process: the saga's own identifiers (trace,
// correlation, causation) ride on the envelope and are attached as span
// attributes, not as distributed trace context.
type SpanManager interface {
	// StartDispatchSpan starts a span for one envelope dispatch.
	StartDispatchSpan(ctx context.Context, queue, eventName, correlationID string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
// Configure the global tracer provider before calling this.
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartDispatchSpan starts a span for one envelope dispatch.
func (m *otelSpanManager) StartDispatchSpan(ctx context.Context, queue, eventName, correlationID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sagaflow.dispatch",
		trace.WithAttributes(
			attribute.String("queue", queue),
			attribute.String("event", eventName),
			attribute.String("correlation.id", correlationID),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
