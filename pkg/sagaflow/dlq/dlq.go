// Package dlq stores envelopes the engine consumed but could not act on.
//
// A dead-letter store is the last resting place of envelopes dropped by a
// worker (invalid payloads) or by an emit that exhausted its retries. It is
// an audit trail, not a retry queue: nothing in the engine re-reads it.
package dlq

import (
	"errors"
	"sync"
	"time"
)

// ErrStoreClosed is returned when operating on a closed store.
var ErrStoreClosed = errors.New("dead-letter store is closed")

// DroppedEnvelope is one dead-lettered envelope plus the context of its
// drop.
type DroppedEnvelope struct {
	// Queue is the queue the envelope was popped from, or the queue an
	// emit was targeting.
	Queue string

	// EventName and EventID identify the envelope. Either may be empty
	// when the envelope itself was malformed.
	EventName string
	EventID   string

	// Reason is the error that caused the drop.
	Reason string

	// Payload is the envelope serialized as JSON, best effort.
	Payload []byte

	// DroppedAt is when the store recorded the drop.
	DroppedAt time.Time
}

// Store records dropped envelopes.
// Implementations must be safe for concurrent use.
type Store interface {
	// Record appends one dropped envelope.
	Record(d DroppedEnvelope) error

	// List returns all recorded drops in insertion order.
	List() ([]DroppedEnvelope, error)

	// Count returns the number of recorded drops.
	Count() (int, error)

	// Close releases the store. Further calls return ErrStoreClosed.
	Close() error
}

// MemoryStore keeps dropped envelopes in memory.
// Suitable for tests and single-process development.
type MemoryStore struct {
	mu     sync.RWMutex
	drops  []DroppedEnvelope
	closed bool
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory dead-letter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record implements Store.
func (s *MemoryStore) Record(d DroppedEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if d.DroppedAt.IsZero() {
		d.DroppedAt = time.Now().UTC()
	}
	s.drops = append(s.drops, d)
	return nil
}

// List implements Store.
func (s *MemoryStore) List() ([]DroppedEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]DroppedEnvelope, len(s.drops))
	copy(out, s.drops)
	return out, nil
}

// Count implements Store.
func (s *MemoryStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	return len(s.drops), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
