package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/bus"
	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/envelope"
	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/worker"
)

func testEnvelope(id string) *envelope.Envelope {
	return &envelope.Envelope{
		EventName:     "OrderPlaced",
		Version:       envelope.Version,
		EventID:       id,
		TraceID:       "trace-1",
		CorrelationID: "corr-1",
		OccurredAt:    envelope.Timestamp(time.Now()),
		Data:          map[string]any{"sku": "ABC", "quantity": float64(2)},
	}
}

// recorder collects dispatched envelopes behind a mutex.
type recorder struct {
	mu   sync.Mutex
	ids  []string
	errs map[string]error
}

func newRecorder() *recorder {
	return &recorder{errs: make(map[string]error)}
}

func (r *recorder) dispatch(_ context.Context, env *envelope.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, env.EventID)
	return r.errs[env.EventID]
}

func (r *recorder) dispatched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %v", timeout)
}

func TestProcessedSet(t *testing.T) {
	set := worker.NewProcessedSet()

	assert.False(t, set.Seen("evt-1"))
	assert.True(t, set.MarkProcessed("evt-1"))
	assert.True(t, set.Seen("evt-1"))
	assert.False(t, set.MarkProcessed("evt-1"))
	assert.Equal(t, 1, set.Len())
}

func TestWorkerConsumesInOrder(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, b.Push(ctx, "order", testEnvelope(fmt.Sprintf("evt-%d", i))))
	}

	rec := newRecorder()
	w, err := worker.New(worker.Config{
		Queue:        "order",
		Bus:          b,
		Dispatch:     rec.dispatch,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	w.Start(ctx)
	defer w.Stop()

	waitFor(t, time.Second, func() bool { return len(rec.dispatched()) == 5 })
	assert.Equal(t, []string{"evt-1", "evt-2", "evt-3", "evt-4", "evt-5"}, rec.dispatched())
}

func TestWorkerSkipsDuplicates(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Push(ctx, "order", testEnvelope("evt-dup")))
	require.NoError(t, b.Push(ctx, "order", testEnvelope("evt-dup")))
	require.NoError(t, b.Push(ctx, "order", testEnvelope("evt-2")))

	rec := newRecorder()
	w, err := worker.New(worker.Config{
		Queue:        "order",
		Bus:          b,
		Dispatch:     rec.dispatch,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	w.Start(ctx)
	defer w.Stop()

	waitFor(t, time.Second, func() bool { return len(rec.dispatched()) == 2 })

	// Give a redelivered duplicate time to slip through, then confirm it
	// did not.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"evt-dup", "evt-2"}, rec.dispatched())
}

func TestWorkerDispatchErrorConsumesEnvelope(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Push(ctx, "order", testEnvelope("evt-bad")))
	require.NoError(t, b.Push(ctx, "order", testEnvelope("evt-good")))

	rec := newRecorder()
	rec.errs["evt-bad"] = errors.New("listener blew up")

	w, err := worker.New(worker.Config{
		Queue:        "order",
		Bus:          b,
		Dispatch:     rec.dispatch,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	w.Start(ctx)
	defer w.Stop()

	// Both envelopes must be consumed exactly once: the failed dispatch is
	// not retried.
	waitFor(t, time.Second, func() bool { return len(rec.dispatched()) == 2 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"evt-bad", "evt-good"}, rec.dispatched())
	assert.Equal(t, 0, b.Len("order"))
}

func TestWorkerDropsInvalidEnvelope(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	bad := testEnvelope("evt-invalid")
	bad.Version = 0
	bad.Data = nil
	require.NoError(t, b.Push(ctx, "order", testEnvelope("evt-after")))

	var (
		dropMu  sync.Mutex
		dropped []string
	)
	rec := newRecorder()
	w, err := worker.New(worker.Config{
		Queue:        "order",
		Bus:          &invalidFirstBus{Bus: b, invalid: bad},
		Dispatch:     rec.dispatch,
		PollInterval: 10 * time.Millisecond,
		OnDrop: func(queue string, env *envelope.Envelope, reason error) {
			dropMu.Lock()
			defer dropMu.Unlock()
			dropped = append(dropped, env.EventID)
		},
	})
	require.NoError(t, err)

	w.Start(ctx)
	defer w.Stop()

	waitFor(t, time.Second, func() bool { return len(rec.dispatched()) == 1 })
	assert.Equal(t, []string{"evt-after"}, rec.dispatched())

	dropMu.Lock()
	defer dropMu.Unlock()
	assert.Equal(t, []string{"evt-invalid"}, dropped)
}

// invalidFirstBus serves one invalid envelope before delegating to the
// wrapped bus.
type invalidFirstBus struct {
	bus.Bus
	mu      sync.Mutex
	invalid *envelope.Envelope
}

func (b *invalidFirstBus) Pop(ctx context.Context, queue string) (*envelope.Envelope, error) {
	b.mu.Lock()
	env := b.invalid
	b.invalid = nil
	b.mu.Unlock()
	if env != nil {
		return env, env.Validate()
	}
	return b.Bus.Pop(ctx, queue)
}

func TestWorkerStopIsIdempotent(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()

	rec := newRecorder()
	w, err := worker.New(worker.Config{
		Queue:        "order",
		Bus:          b,
		Dispatch:     rec.dispatch,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx := context.Background()
	w.Start(ctx)
	w.Start(ctx) // second start is a no-op

	w.Stop()
	w.Stop() // second stop is a no-op

	// No dispatch may happen after Stop returns.
	require.NoError(t, b.Push(ctx, "order", testEnvelope("evt-late")))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.dispatched())
}

func TestWorkerRestart(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	rec := newRecorder()
	w, err := worker.New(worker.Config{
		Queue:        "order",
		Bus:          b,
		Dispatch:     rec.dispatch,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	w.Start(ctx)
	w.Stop()

	require.NoError(t, b.Push(ctx, "order", testEnvelope("evt-1")))
	w.Start(ctx)
	defer w.Stop()

	waitFor(t, time.Second, func() bool { return len(rec.dispatched()) == 1 })
}

func TestWorkerConfigValidation(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()

	dispatch := func(context.Context, *envelope.Envelope) error { return nil }

	_, err := worker.New(worker.Config{Bus: b, Dispatch: dispatch})
	assert.Error(t, err)

	_, err = worker.New(worker.Config{Queue: "q", Dispatch: dispatch})
	assert.Error(t, err)

	_, err = worker.New(worker.Config{Queue: "q", Bus: b})
	assert.Error(t, err)
}
