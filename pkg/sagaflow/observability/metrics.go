package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records saga engine metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDispatch records one envelope dispatch with its duration and
	// error status.
	RecordDispatch(ctx context.Context, eventName string, duration time.Duration, err error)

	// RecordEmit records a derived event publication.
	RecordEmit(ctx context.Context, eventName string, success bool)

	// RecordPoll records one queue poll and whether it came back empty.
	RecordPoll(ctx context.Context, queue string, empty bool)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	dispatches      metric.Int64Counter
	dispatchLatency metric.Float64Histogram
	dispatchErrors  metric.Int64Counter
	emits           metric.Int64Counter
	polls           metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("sagaflow")

	dispatches, err := meter.Int64Counter("sagaflow.dispatch.count",
		metric.WithDescription("Number of envelope dispatches"),
	)
	if err != nil {
		return nil, err
	}

	dispatchLatency, err := meter.Float64Histogram("sagaflow.dispatch.duration",
		metric.WithDescription("Dispatch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	dispatchErrors, err := meter.Int64Counter("sagaflow.dispatch.errors",
		metric.WithDescription("Number of failed dispatches"),
	)
	if err != nil {
		return nil, err
	}

	emits, err := meter.Int64Counter("sagaflow.emit.count",
		metric.WithDescription("Number of derived event publications"),
	)
	if err != nil {
		return nil, err
	}

	polls, err := meter.Int64Counter("sagaflow.queue.poll",
		metric.WithDescription("Number of queue polls"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		dispatches:      dispatches,
		dispatchLatency: dispatchLatency,
		dispatchErrors:  dispatchErrors,
		emits:           emits,
		polls:           polls,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by the global OTel
// meter provider. Falls back to NoopMetrics when instrument creation fails,
// logging the failure once.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Default().Warn("metrics disabled",
			slog.String("error", err.Error()),
		)
		return NoopMetrics{}
	}
	return m
}

// RecordDispatch records one envelope dispatch.
func (m *otelMetrics) RecordDispatch(ctx context.Context, eventName string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("event", eventName))
	m.dispatches.Add(ctx, 1, attrs)
	m.dispatchLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.dispatchErrors.Add(ctx, 1, attrs)
	}
}

// RecordEmit records a derived event publication.
func (m *otelMetrics) RecordEmit(ctx context.Context, eventName string, success bool) {
	m.emits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", eventName),
		attribute.Bool("success", success),
	))
}

// RecordPoll records one queue poll.
func (m *otelMetrics) RecordPoll(ctx context.Context, queue string, empty bool) {
	m.polls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.Bool("empty", empty),
	))
}
