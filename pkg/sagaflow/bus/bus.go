// Package bus defines the event bus abstraction the scenario runtime speaks
// to, plus the implementations in scope: an in-memory bus for tests and
// single-process runs, an HTTP client for a remote broker, and a NATS
// JetStream variant for deployments that already run JetStream.
//
// The contract is deliberately small: per-queue FIFO push/pop. A pop removes
// the head envelope; at-least-once semantics, where needed, come from the
// broker behind the interface. Every implementation validates envelopes on
// ingress and egress.
package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/envelope"
)

// Bus moves envelopes through named FIFO queues.
// Implementations must be safe for concurrent use.
type Bus interface {
	// Push validates the envelope and appends it to the named queue.
	Push(ctx context.Context, queue string, env *envelope.Envelope) error

	// Pop removes and returns the head envelope of the named queue.
	// It returns ErrEmpty when the queue has no envelopes.
	Pop(ctx context.Context, queue string) (*envelope.Envelope, error)
}

// ErrEmpty is returned by Pop when the queue holds no envelopes.
var ErrEmpty = errors.New("queue is empty")

// ErrClosed is returned after a bus has been closed.
var ErrClosed = errors.New("bus is closed")

// TransportError indicates a transport-level bus failure: a network error or
// a broker-side failure. Transport errors are retriable; validation errors
// are not.
type TransportError struct {
	Op         string // "push" or "pop"
	Queue      string
	StatusCode int // non-zero for HTTP responses
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("bus %s on queue %q: HTTP %d: %v", e.Op, e.Queue, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("bus %s on queue %q: %v", e.Op, e.Queue, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetriable reports whether err is a transport failure worth retrying.
// Validation errors and ErrEmpty are caller-visible conditions, not faults.
func IsRetriable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
