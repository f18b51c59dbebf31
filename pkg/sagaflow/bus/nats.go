package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/envelope"
)

// NATSBus is a Bus implementation on top of NATS JetStream, for deployments
// that already run a JetStream broker. Each queue maps to its own stream and
// a durable pull consumer; Pop fetches a single message and acks it, which
// gives the same destructive-pop semantics as the other implementations.
type NATSBus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
	wait   time.Duration

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig configures a NATSBus.
type NATSConfig struct {
	// URL of the NATS server, e.g. nats.DefaultURL.
	URL string

	// StreamPrefix namespaces the streams created per queue.
	// Default: "SAGA".
	StreamPrefix string

	// FetchWait bounds how long Pop waits for a message before
	// reporting the queue empty. Default: 250ms.
	FetchWait time.Duration
}

// streamPrefix and fetchWait defaults.
const (
	defaultStreamPrefix = "SAGA"
	defaultFetchWait    = 250 * time.Millisecond
)

// NewNATSBus connects to NATS and initialises a JetStream context.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = defaultStreamPrefix
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = defaultFetchWait
	}

	nc, err := nats.Connect(cfg.URL, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("initialize JetStream: %w", err)
	}

	return &NATSBus{
		conn:   nc,
		js:     js,
		subs:   make(map[string]*nats.Subscription),
		prefix: cfg.StreamPrefix,
		wait:   cfg.FetchWait,
	}, nil
}

// Push validates the envelope and publishes it to the queue's stream,
// provisioning the stream on first use.
func (b *NATSBus) Push(ctx context.Context, queue string, env *envelope.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	if err := b.ensureStream(queue); err != nil {
		return &TransportError{Op: "push", Queue: queue, Err: err}
	}

	data, err := json.Marshal(env)
	if err != nil {
		return &envelope.InvalidEnvelopeError{EventID: env.EventID, Issues: []string{"envelope is not serializable: " + err.Error()}}
	}

	if _, err := b.js.Publish(b.subject(queue), data, nats.Context(ctx)); err != nil {
		return &TransportError{Op: "push", Queue: queue, Err: err}
	}
	return nil
}

// Pop fetches and acks a single message from the queue's pull consumer.
func (b *NATSBus) Pop(ctx context.Context, queue string) (*envelope.Envelope, error) {
	sub, err := b.subscription(queue)
	if err != nil {
		return nil, &TransportError{Op: "pop", Queue: queue, Err: err}
	}

	msgs, err := sub.Fetch(1, nats.MaxWait(b.wait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrEmpty
		}
		return nil, &TransportError{Op: "pop", Queue: queue, Err: err}
	}
	if len(msgs) == 0 {
		return nil, ErrEmpty
	}

	msg := msgs[0]
	if err := msg.Ack(); err != nil {
		return nil, &TransportError{Op: "pop", Queue: queue, Err: fmt.Errorf("ack: %w", err)}
	}

	// Egress validation happens inside Decode.
	return envelope.Decode(msg.Data)
}

// Close drains the connection, flushing in-flight publishes and deliveries.
func (b *NATSBus) Close() error {
	if b.conn == nil {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
	return nil
}

// ensureStream idempotently provisions the stream backing a queue.
func (b *NATSBus) ensureStream(queue string) error {
	name := b.streamName(queue)

	_, err := b.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("check stream %s: %w", name, err)
	}

	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{b.subject(queue)},
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	return nil
}

// subscription returns (and lazily creates) the durable pull consumer for a
// queue.
func (b *NATSBus) subscription(queue string) (*nats.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[queue]; ok {
		return sub, nil
	}

	if err := b.ensureStream(queue); err != nil {
		return nil, err
	}

	sub, err := b.js.PullSubscribe(b.subject(queue), b.streamName(queue)+"-worker")
	if err != nil {
		return nil, fmt.Errorf("pull subscribe: %w", err)
	}
	b.subs[queue] = sub
	return sub, nil
}

func (b *NATSBus) streamName(queue string) string {
	return b.prefix + "-" + strings.ToUpper(sanitize(queue))
}

func (b *NATSBus) subject(queue string) string {
	return strings.ToLower(b.prefix) + ".queues." + sanitize(queue)
}

// sanitize maps a queue name onto the NATS token alphabet.
func sanitize(queue string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, queue)
}
