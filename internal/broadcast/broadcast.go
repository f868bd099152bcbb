// Package broadcast fans mission and drone events out to live subscribers.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "fleetops/internal/broadcast"

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

// ErrSlowConsumer is reported by a subscription that was closed because its queue filled up.
var ErrSlowConsumer = errors.New("subscriber too slow, events dropped")

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) { b.now = now }
}

// Broadcaster delivers events at most once, in emission order per topic, to every
// matching subscriber. Publish never blocks on a subscriber.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription
	seqs   map[string]uint64
	buffer int
	closed bool

	now func() time.Time
	log zerolog.Logger

	published metric.Int64Counter
	dropped   metric.Int64Counter
}

// New creates a Broadcaster. Metrics use the global OTel meter (no-op if not configured).
func New(log zerolog.Logger, opts ...Option) (*Broadcaster, error) {
	b := &Broadcaster{
		subs:   make(map[uuid.UUID]*Subscription),
		seqs:   make(map[string]uint64),
		buffer: DefaultBuffer,
		now:    time.Now,
		log:    log.With().Str("component", "broadcast").Logger(),
	}
	for _, o := range opts {
		o(b)
	}

	m := otel.Meter(instrumentationName)
	var err error
	b.published, err = m.Int64Counter(
		"broadcast.events.published",
		metric.WithDescription("Total events published"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating published counter: %w", err)
	}
	b.dropped, err = m.Int64Counter(
		"broadcast.subscribers.dropped",
		metric.WithDescription("Subscribers disconnected because their queue was full"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	return b, nil
}

// Subscription is a live feed of events. Events is closed on Close, on broadcaster
// shutdown, or when the subscriber falls behind (Err then returns ErrSlowConsumer).
type Subscription struct {
	ID      uuid.UUID
	filters []string
	ch      chan Event
	b       *Broadcaster
	err     error
}

// Events returns the subscription's queue.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Err returns why the subscription ended, or nil if it is live or closed by the caller.
func (s *Subscription) Err() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.err
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.removeLocked(s, nil)
}

// Subscribe registers a subscriber for the given topic filters
// ("mission:" for every mission, "drone:7" for one drone). Without filters it receives every event.
func (b *Broadcaster) Subscribe(filters ...string) *Subscription {
	s := &Subscription{
		ID:      uuid.New(),
		filters: filters,
		ch:      make(chan Event, b.buffer),
		b:       b,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s.ID] = s
	return s
}

// Publish stamps and enqueues the payloads in order. Sequence assignment and delivery
// happen in one critical section so all subscribers observe the same per-topic order.
func (b *Broadcaster) Publish(payloads ...Payload) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	now := b.now().UTC()
	events := make([]Event, 0, len(payloads))
	for _, p := range payloads {
		topic := p.Topic()
		b.seqs[topic]++
		ev := Event{
			ID:      uuid.New(),
			Kind:    p.Kind(),
			Topic:   topic,
			Seq:     b.seqs[topic],
			Time:    now,
			Payload: p,
		}
		events = append(events, ev)
		b.published.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", string(ev.Kind))))

		for _, s := range b.subs {
			if !matches(s.filters, topic) {
				continue
			}
			select {
			case s.ch <- ev:
			default:
				b.log.Warn().Str("subscriber", s.ID.String()).Str("topic", topic).Msg("subscriber queue full, disconnecting")
				b.dropped.Add(context.Background(), 1)
				b.removeLocked(s, ErrSlowConsumer)
			}
		}
	}
	return events
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription and rejects further publishes.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		b.removeLocked(s, nil)
	}
}

func (b *Broadcaster) removeLocked(s *Subscription, reason error) {
	if _, ok := b.subs[s.ID]; !ok {
		return
	}
	delete(b.subs, s.ID)
	s.err = reason
	close(s.ch)
}
