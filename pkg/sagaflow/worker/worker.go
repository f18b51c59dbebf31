// Package worker runs the per-queue poll loop that drives saga progress.
//
// Each Worker owns exactly one queue: it pops envelopes one at a time,
// skips duplicates via a ProcessedSet, and hands fresh envelopes to a
// dispatch callback. Delivery is at-least-once underneath; the processed-id
// set makes dispatch effectively exactly-once per envelope id within the
// worker's lifetime.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/bus"
	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/envelope"
	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/observability"
)

// DefaultPollInterval is the pause between polls after an empty queue or a
// failed cycle.
const DefaultPollInterval = 250 * time.Millisecond

// DispatchFunc handles one envelope popped from the queue. Returning an
// error marks the envelope as failed; the worker logs and keeps going.
type DispatchFunc func(ctx context.Context, env *envelope.Envelope) error

// DropFunc observes an envelope the worker consumed but will never
// dispatch, together with the reason it was dropped.
type DropFunc func(queue string, env *envelope.Envelope, reason error)

// ProcessedSet tracks envelope ids that have already been dispatched.
// Safe for concurrent use.
type ProcessedSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewProcessedSet returns an empty processed-id set.
func NewProcessedSet() *ProcessedSet {
	return &ProcessedSet{ids: make(map[string]struct{})}
}

// MarkProcessed records an envelope id. Returns false if the id was
// already present.
func (s *ProcessedSet) MarkProcessed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Seen reports whether an envelope id has been recorded.
func (s *ProcessedSet) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of recorded ids.
func (s *ProcessedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Config describes one queue worker.
type Config struct {
	// Queue is the queue name this worker polls. Required.
	Queue string

	// Bus is the message bus to poll. Required.
	Bus bus.Bus

	// Dispatch handles each fresh envelope. Required.
	Dispatch DispatchFunc

	// Processed deduplicates envelope ids. A shared set lets several
	// workers dedupe against each other. Defaults to a private set.
	Processed *ProcessedSet

	// PollInterval is the pause after an empty poll, a transport failure,
	// or a failed dispatch. Defaults to DefaultPollInterval.
	PollInterval time.Duration

	// Logger receives worker events. Nil disables logging.
	Logger *slog.Logger

	// Metrics records poll and dispatch counts. Nil disables metrics.
	Metrics observability.MetricsRecorder

	// OnDrop observes consumed-but-never-dispatched envelopes (invalid
	// payloads). Optional.
	OnDrop DropFunc
}

// Worker polls a single queue and dispatches envelopes in order.
// At most one dispatch is in flight at any time.
type Worker struct {
	cfg Config

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a worker from cfg. Missing optional fields get defaults.
func New(cfg Config) (*Worker, error) {
	if cfg.Queue == "" {
		return nil, errors.New("worker: queue name is required")
	}
	if cfg.Bus == nil {
		return nil, errors.New("worker: bus is required")
	}
	if cfg.Dispatch == nil {
		return nil, errors.New("worker: dispatch func is required")
	}
	if cfg.Processed == nil {
		cfg.Processed = NewProcessedSet()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	return &Worker{cfg: cfg}, nil
}

// Start launches the poll loop. Calling Start on a running worker is a
// no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	observability.LogWorkerStart(w.cfg.Logger, w.cfg.Queue)
	go w.loop(loopCtx)
}

// Stop cancels the poll loop and waits for the in-flight cycle to finish.
// Calling Stop on a stopped worker is a no-op.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	done := w.done
	w.running = false
	w.mu.Unlock()

	cancel()
	<-done
	observability.LogWorkerStop(w.cfg.Logger, w.cfg.Queue)
}

// loop is the poll cycle. Each iteration pops at most one envelope and
// fully handles it before the next pop.
func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)

	for {
		if ctx.Err() != nil {
			return
		}

		env, err := w.cfg.Bus.Pop(ctx, w.cfg.Queue)
		switch {
		case err == nil:
			w.cfg.Metrics.RecordPoll(ctx, w.cfg.Queue, false)
			w.handle(ctx, env)
			continue

		case errors.Is(err, bus.ErrEmpty):
			w.cfg.Metrics.RecordPoll(ctx, w.cfg.Queue, true)
			if !w.pause(ctx) {
				return
			}

		case ctx.Err() != nil:
			// Cancelled mid-pop; not a transport failure worth logging.
			return

		default:
			var invalid *envelope.InvalidEnvelopeError
			if errors.As(err, &invalid) {
				// The envelope was consumed but cannot be dispatched.
				observability.LogInvalidEnvelope(w.cfg.Logger, w.cfg.Queue, err)
				if w.cfg.OnDrop != nil {
					w.cfg.OnDrop(w.cfg.Queue, env, err)
				}
				continue
			}
			observability.LogPollError(w.cfg.Logger, w.cfg.Queue, err)
			if !w.pause(ctx) {
				return
			}
		}
	}
}

// handle dispatches one popped envelope, deduplicating by envelope id.
// Failed dispatches are still marked processed so redelivery cannot
// re-trigger their side effects.
func (w *Worker) handle(ctx context.Context, env *envelope.Envelope) {
	if w.cfg.Processed.Seen(env.EventID) {
		observability.LogDuplicate(w.cfg.Logger, w.cfg.Queue, env.EventID)
		return
	}

	start := time.Now()
	err := w.cfg.Dispatch(ctx, env)
	w.cfg.Metrics.RecordDispatch(ctx, env.EventName, time.Since(start), err)
	w.cfg.Processed.MarkProcessed(env.EventID)

	if err != nil && ctx.Err() == nil {
		observability.LogDispatchError(w.cfg.Logger, w.cfg.Queue, env.EventID, err)
		w.pause(ctx)
	}
}

// pause sleeps one poll interval. Returns false when the context is
// cancelled before the interval elapses.
func (w *Worker) pause(ctx context.Context) bool {
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
