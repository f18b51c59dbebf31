package bus

import (
	"context"
	"sync"

	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/envelope"
)

// MemoryBus is an in-memory Bus implementation.
// Suitable for tests and single-process deployments. There is no redelivery:
// a pop removes the envelope for good.
type MemoryBus struct {
	mu     sync.Mutex
	queues map[string][]*envelope.Envelope
	closed bool
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		queues: make(map[string][]*envelope.Envelope),
	}
}

// Push validates the envelope and appends it to the named queue.
func (b *MemoryBus) Push(_ context.Context, queue string, env *envelope.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	b.queues[queue] = append(b.queues[queue], env)
	return nil
}

// Pop removes and returns the head envelope of the named queue.
// Empty queues are pruned from the map.
func (b *MemoryBus) Pop(_ context.Context, queue string) (*envelope.Envelope, error) {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}

	q, ok := b.queues[queue]
	if !ok || len(q) == 0 {
		b.mu.Unlock()
		return nil, ErrEmpty
	}

	env := q[0]
	if len(q) == 1 {
		delete(b.queues, queue)
	} else {
		b.queues[queue] = q[1:]
	}
	b.mu.Unlock()

	// Egress validation. The envelope is already consumed at this point;
	// callers treat the failure as a dropped envelope.
	if err := env.Validate(); err != nil {
		return env, err
	}
	return env, nil
}

// Len returns the number of envelopes currently queued.
func (b *MemoryBus) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

// Close marks the bus closed. Further pushes and pops fail with ErrClosed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.queues = nil
	return nil
}
