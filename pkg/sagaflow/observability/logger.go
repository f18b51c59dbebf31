// Package observability provides structured logging, metrics, and tracing
// for the saga engine.
//
// Logging goes through slog (Go stdlib); metrics and tracing go through
// OpenTelemetry. Everything is opt-in: a nil logger disables logging and
// the no-op recorders disable metrics and tracing without overhead.
package observability

import "log/slog"

// EnrichLogger adds saga context to a logger.
// Returns a new logger with queue, event and correlation fields.
func EnrichLogger(logger *slog.Logger, queue, eventName, correlationID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("queue", queue),
		slog.String("event", eventName),
		slog.String("correlation_id", correlationID),
	)
}

// LogWorkerStart logs a queue worker entering its poll loop.
func LogWorkerStart(logger *slog.Logger, queue string) {
	if logger == nil {
		return
	}
	logger.Info("worker starting",
		slog.String("queue", queue),
	)
}

// LogWorkerStop logs a queue worker draining out.
func LogWorkerStop(logger *slog.Logger, queue string) {
	if logger == nil {
		return
	}
	logger.Info("worker stopped",
		slog.String("queue", queue),
	)
}

// LogDuplicate logs an envelope skipped by the processed-id set.
func LogDuplicate(logger *slog.Logger, queue, eventID string) {
	if logger == nil {
		return
	}
	logger.Debug("duplicate envelope skipped",
		slog.String("queue", queue),
		slog.String("event_id", eventID),
	)
}

// LogInvalidEnvelope logs a popped envelope that failed validation.
// The envelope is consumed and dropped.
func LogInvalidEnvelope(logger *slog.Logger, queue string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("invalid envelope dropped",
		slog.String("queue", queue),
		slog.String("error", err.Error()),
	)
}

// LogPollError logs a transport failure on pop; the worker treats it as an
// empty poll.
func LogPollError(logger *slog.Logger, queue string, err error) {
	if logger == nil {
		return
	}
	logger.Error("queue poll failed",
		slog.String("queue", queue),
		slog.String("error", err.Error()),
	)
}

// LogDispatchError logs a listener dispatch failure. The envelope is
// consumed; the saga continues.
func LogDispatchError(logger *slog.Logger, queue, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("dispatch failed",
		slog.String("queue", queue),
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// LogNoListeners logs an envelope no listener reacts to.
func LogNoListeners(logger *slog.Logger, eventName, eventID string) {
	if logger == nil {
		return
	}
	logger.Debug("no listeners for event",
		slog.String("event", eventName),
		slog.String("event_id", eventID),
	)
}

// LogStateChange logs a set-state action.
func LogStateChange(logger *slog.Logger, correlationID, domain, status string) {
	if logger == nil {
		return
	}
	logger.Debug("state updated",
		slog.String("correlation_id", correlationID),
		slog.String("domain", domain),
		slog.String("status", status),
	)
}

// LogEmit logs a derived envelope published to a queue.
func LogEmit(logger *slog.Logger, eventName, eventID, queue, causationID string) {
	if logger == nil {
		return
	}
	logger.Debug("event emitted",
		slog.String("event", eventName),
		slog.String("event_id", eventID),
		slog.String("queue", queue),
		slog.String("causation_id", causationID),
	)
}

// LogEmitError logs a publication that failed beyond retry. The emission is
// dropped; the saga does not halt.
func LogEmitError(logger *slog.Logger, eventName, queue string, err error) {
	if logger == nil {
		return
	}
	logger.Error("emit failed",
		slog.String("event", eventName),
		slog.String("queue", queue),
		slog.String("error", err.Error()),
	)
}

// LogMappingWarning logs one recoverable payload mapping issue.
func LogMappingWarning(logger *slog.Logger, eventName, path, message string) {
	if logger == nil {
		return
	}
	logger.Warn("payload mapping issue",
		slog.String("event", eventName),
		slog.String("path", path),
		slog.String("message", message),
	)
}
