// Package runtime executes a loaded scenario against an event bus.
//
// The runtime spins up one worker per declared domain queue, dispatches
// popped envelopes to the scenario's listeners, maintains the per-saga
// state map, and emits derived envelopes with inherited trace and
// correlation ids. Dispatch is table lookup over indexes built once at
// startup; the scenario itself is never mutated.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/async"
	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/bus"
	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/dlq"
	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/envelope"
	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/mapping"
	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/observability"
	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/scenario"
	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/worker"
)

// Options configures a Runtime. Scenario and Bus are required; everything
// else has working defaults.
type Options struct {
	// Scenario is the loaded saga definition. Required.
	Scenario *scenario.Scenario

	// Bus carries envelopes between domains. Required.
	Bus bus.Bus

	// Logger receives engine events. Nil disables logging.
	Logger *slog.Logger

	// PollInterval paces the queue workers. Defaults to
	// worker.DefaultPollInterval.
	PollInterval time.Duration

	// Retry is the publication retry policy for emit actions.
	// Zero values fall back to bus.DefaultRetryOptions.
	Retry bus.RetryOptions

	// Metrics records engine metrics. Nil disables metrics.
	Metrics observability.MetricsRecorder

	// Spans traces envelope dispatches. Nil disables tracing.
	Spans observability.SpanManager

	// DeadLetters receives envelopes the engine consumed but dropped.
	// Nil disables dead-lettering.
	DeadLetters dlq.Store

	// NewID generates envelope ids for emitted events.
	// Defaults to envelope.NewID.
	NewID func() string

	// Now supplies timestamps for emitted events. Defaults to time.Now.
	Now func() time.Time
}

// Runtime executes one scenario. Create with New, drive with Start/Stop.
type Runtime struct {
	opts Options

	listenersByEvent map[string][]scenario.Listener
	eventsByName     map[string]scenario.EventDef
	queueByDomain    map[string]string

	workers []*worker.Worker

	mu    sync.Mutex
	state map[string]map[string]string // correlation id -> domain id -> status

	runMu   sync.Mutex
	running bool
}

// New validates the scenario and builds the dispatch indexes.
func New(opts Options) (*Runtime, error) {
	if opts.Scenario == nil {
		return nil, errors.New("runtime: scenario is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("runtime: bus is required")
	}
	if err := opts.Scenario.Validate(); err != nil {
		return nil, err
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = worker.DefaultPollInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NoopMetrics{}
	}
	if opts.Spans == nil {
		opts.Spans = observability.NoopSpanManager{}
	}
	if opts.NewID == nil {
		opts.NewID = envelope.NewID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Runtime{
		opts:             opts,
		listenersByEvent: make(map[string][]scenario.Listener),
		eventsByName:     make(map[string]scenario.EventDef, len(opts.Scenario.Events)),
		queueByDomain:    make(map[string]string, len(opts.Scenario.Domains)),
		state:            make(map[string]map[string]string),
	}

	for _, e := range opts.Scenario.Events {
		r.eventsByName[e.Name] = e
	}
	for _, d := range opts.Scenario.Domains {
		r.queueByDomain[d.ID] = d.Queue
	}
	for _, l := range opts.Scenario.Listeners {
		r.listenersByEvent[l.On] = append(r.listenersByEvent[l.On], l)
	}

	// One worker per domain queue, all sharing one processed-id set so a
	// misrouted redelivery cannot double-dispatch.
	processed := worker.NewProcessedSet()
	for _, d := range opts.Scenario.Domains {
		queue := d.Queue
		w, err := worker.New(worker.Config{
			Queue:        queue,
			Bus:          opts.Bus,
			Processed:    processed,
			PollInterval: opts.PollInterval,
			Logger:       opts.Logger,
			Metrics:      opts.Metrics,
			OnDrop:       r.recordDrop,
			Dispatch: func(ctx context.Context, env *envelope.Envelope) error {
				return r.dispatch(ctx, queue, env)
			},
		})
		if err != nil {
			return nil, err
		}
		r.workers = append(r.workers, w)
	}

	return r, nil
}

// Start launches every queue worker. Calling Start on a running runtime is
// a no-op. The workers stop when Stop is called or ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running {
		return
	}
	r.running = true
	for _, w := range r.workers {
		w.Start(ctx)
	}
}

// Stop halts every worker and waits for in-flight dispatches to finish.
// Calling Stop on a stopped runtime is a no-op.
func (r *Runtime) Stop() {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return
	}
	r.running = false

	var wg sync.WaitGroup
	for _, w := range r.workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
}

// Trigger builds the saga's initial envelope and pushes it onto the given
// domain's queue. A fresh trace and correlation id are minted from NewID.
func (r *Runtime) Trigger(ctx context.Context, domainID, eventName string, data map[string]any) (*envelope.Envelope, error) {
	queue, ok := r.queueByDomain[domainID]
	if !ok {
		return nil, &scenario.ValidationError{
			Scenario: r.opts.Scenario.Name,
			Issues:   []scenario.Issue{{Path: "trigger.domain", Message: fmt.Sprintf("unknown domain %q", domainID)}},
		}
	}
	if _, ok := r.eventsByName[eventName]; !ok {
		return nil, &scenario.ValidationError{
			Scenario: r.opts.Scenario.Name,
			Issues:   []scenario.Issue{{Path: "trigger.event", Message: fmt.Sprintf("unknown event %q", eventName)}},
		}
	}

	env, err := envelope.New(eventName, r.opts.NewID(), r.opts.NewID(), data)
	if err != nil {
		return nil, err
	}
	if err := bus.PublishWithRetry(ctx, r.opts.Bus, queue, env, r.opts.Retry); err != nil {
		return nil, err
	}
	return env, nil
}

// StateSnapshot returns a deep copy of every saga's per-domain status.
func (r *Runtime) StateSnapshot() map[string]map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]map[string]string, len(r.state))
	for corr, domains := range r.state {
		copied := make(map[string]string, len(domains))
		for d, status := range domains {
			copied[d] = status
		}
		out[corr] = copied
	}
	return out
}

// State returns a copy of one saga's per-domain status.
func (r *Runtime) State(correlationID string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	domains, ok := r.state[correlationID]
	if !ok {
		return nil
	}
	copied := make(map[string]string, len(domains))
	for d, status := range domains {
		copied[d] = status
	}
	return copied
}

// dispatch runs every listener registered for the envelope's event name,
// in declaration order, with at most one dispatch in flight per runtime
// worker.
func (r *Runtime) dispatch(ctx context.Context, queue string, env *envelope.Envelope) error {
	listeners := r.listenersByEvent[env.EventName]
	if len(listeners) == 0 {
		observability.LogNoListeners(r.opts.Logger, env.EventName, env.EventID)
		return nil
	}

	spanCtx, span := r.opts.Spans.StartDispatchSpan(ctx, queue, env.EventName, env.CorrelationID)
	logger := observability.EnrichLogger(r.opts.Logger, queue, env.EventName, env.CorrelationID)

	var err error
	for _, l := range listeners {
		if err = r.runListener(spanCtx, logger, l, env); err != nil {
			break
		}
	}
	r.opts.Spans.EndSpanWithError(span, err)
	return err
}

// runListener applies one listener's delay and actions to an envelope.
func (r *Runtime) runListener(ctx context.Context, logger *slog.Logger, l scenario.Listener, env *envelope.Envelope) error {
	if l.DelayMs > 0 {
		if err := async.Delay(ctx, time.Duration(l.DelayMs)*time.Millisecond); err != nil {
			return err
		}
	}

	for _, a := range l.Actions {
		switch a.Type {
		case scenario.ActionSetState:
			r.setState(logger, env.CorrelationID, a.Domain, a.Status)

		case scenario.ActionEmit:
			if err := r.emit(ctx, logger, a, env); err != nil {
				return err
			}
		}
	}
	return nil
}

// setState records a domain's status for one saga instance.
func (r *Runtime) setState(logger *slog.Logger, correlationID, domainID, status string) {
	r.mu.Lock()
	domains, ok := r.state[correlationID]
	if !ok {
		domains = make(map[string]string)
		r.state[correlationID] = domains
	}
	domains[domainID] = status
	r.mu.Unlock()

	observability.LogStateChange(logger, correlationID, domainID, status)
}

// emit projects the source payload through the action's mapping, derives a
// child envelope, and publishes it to the target domain's queue. A
// publication that fails beyond retry is logged, dead-lettered, and
// swallowed: the saga keeps going.
func (r *Runtime) emit(ctx context.Context, logger *slog.Logger, a scenario.Action, parent *envelope.Envelope) error {
	if a.DelayMs > 0 {
		if err := async.Delay(ctx, time.Duration(a.DelayMs)*time.Millisecond); err != nil {
			return err
		}
	}

	def := r.eventsByName[a.Event]
	queue := r.queueByDomain[a.ToDomain]

	var data map[string]any
	if a.Mapping != nil {
		data = mapping.Apply(parent.Data, def.PayloadSchema, a.Mapping, func(w mapping.Warning) {
			observability.LogMappingWarning(logger, a.Event, w.Path, w.Message)
		})
	} else {
		// No mapping means the payload passes through untouched.
		data = parent.Data
	}

	child := envelope.Derive(parent, a.Event, r.opts.NewID(), envelope.Timestamp(r.opts.Now()), data)

	err := bus.PublishWithRetry(ctx, r.opts.Bus, queue, child, r.opts.Retry)
	r.opts.Metrics.RecordEmit(ctx, a.Event, err == nil)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		observability.LogEmitError(r.opts.Logger, a.Event, queue, err)
		r.deadLetter(queue, child, err)
		return nil
	}

	observability.LogEmit(logger, a.Event, child.EventID, queue, child.CausationID)
	return nil
}

// recordDrop dead-letters an envelope a worker consumed but refused.
func (r *Runtime) recordDrop(queue string, env *envelope.Envelope, reason error) {
	r.deadLetter(queue, env, reason)
}

// deadLetter best-effort records a dropped envelope.
func (r *Runtime) deadLetter(queue string, env *envelope.Envelope, reason error) {
	if r.opts.DeadLetters == nil || env == nil {
		return
	}
	payload, _ := json.Marshal(env)
	drop := dlq.DroppedEnvelope{
		Queue:     queue,
		EventName: env.EventName,
		EventID:   env.EventID,
		Reason:    reason.Error(),
		Payload:   payload,
	}
	if err := r.opts.DeadLetters.Record(drop); err != nil && r.opts.Logger != nil {
		r.opts.Logger.Error("dead-letter record failed",
			slog.String("queue", queue),
			slog.String("error", err.Error()),
		)
	}
}
