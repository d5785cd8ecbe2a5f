// Package broadcast fans stamped telemetry records out to independent
// subscriber channels. Channels never interfere with one another: a slow
// or dead subscriber on one channel cannot delay subscribers elsewhere or
// the acquisition loop, because every subscriber owns a bounded
// drop-oldest queue and Publish never blocks.
package broadcast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/model-satellite/flightcore/internal/telemetry"
)

// DefaultQueueSize is the per-subscriber queue capacity unless configured
// otherwise.
const DefaultQueueSize = 64

// ErrClosed is returned by Subscriber.Next once the subscription has been
// closed and its queue emptied.
var ErrClosed = errors.New("subscription closed")

// WithLogger sets the logger for the hub.
func WithLogger(logger *slog.Logger) func(*Hub) {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithQueueSize sets the per-subscriber queue capacity.
func WithQueueSize(n int) func(*Hub) {
	return func(h *Hub) {
		h.queueSize = n
	}
}

// Subscriber is one sink bound to a channel. Its lifetime is independent
// of the acquisition loop: it may connect and disconnect at any time
// without affecting in-flight publication.
type Subscriber struct {
	channel string
	id      uint64
	queue   *Queue

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Next blocks until a record is available, the context is cancelled, or
// the subscription is closed. Records arrive in publish order; gaps occur
// only when this subscriber's own queue overflowed.
func (s *Subscriber) Next(ctx context.Context) (*telemetry.Record, error) {
	for {
		if rec := s.queue.Pop(); rec != nil {
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			// Let queued records drain before reporting closure.
			if rec := s.queue.Pop(); rec != nil {
				return rec, nil
			}
			return nil, ErrClosed
		case <-s.notify:
		}
	}
}

// Pending removes and returns everything currently queued, in publish
// order, without waiting. Batching consumers use it to take a whole
// backlog in one call after Next delivered the first record.
func (s *Subscriber) Pending() []*telemetry.Record {
	return s.queue.Drain()
}

// Dropped returns how many records this subscriber lost to backpressure.
func (s *Subscriber) Dropped() uint64 {
	return s.queue.Dropped()
}

// Channel returns the channel name this subscriber is bound to.
func (s *Subscriber) Channel() string {
	return s.channel
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Hub distributes each published record to every subscriber on every
// channel.
type Hub struct {
	logger    *slog.Logger
	queueSize int

	mu       sync.RWMutex
	channels map[string]map[uint64]*Subscriber
	nextID   uint64
	closed   bool
}

// NewHub creates a hub with no subscribers.
func NewHub(options ...func(*Hub)) *Hub {
	h := Hub{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		queueSize: DefaultQueueSize,
		channels:  make(map[string]map[uint64]*Subscriber),
	}

	for _, option := range options {
		option(&h)
	}

	return &h
}

// Subscribe attaches a new subscriber to the named channel.
func (h *Hub) Subscribe(channel string) (*Subscriber, error) {
	queue, err := NewQueue(h.queueSize)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	h.nextID++
	sub := &Subscriber{
		channel: channel,
		id:      h.nextID,
		queue:   queue,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[uint64]*Subscriber)
		h.channels[channel] = subs
	}
	subs[sub.id] = sub

	h.logger.Debug("subscriber attached",
		slog.String("channel", channel),
		slog.Uint64("id", sub.id))

	return sub, nil
}

// Unsubscribe detaches the subscriber. Queued records remain readable
// until drained; further publications are not delivered to it.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if subs, ok := h.channels[sub.channel]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(h.channels, sub.channel)
		}
	}
	h.mu.Unlock()

	sub.close()
}

// Publish delivers the record to every subscriber on every channel. It
// never blocks: a subscriber whose queue is full loses its own oldest
// record and nothing else.
func (h *Hub) Publish(rec *telemetry.Record) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for channel, subs := range h.channels {
		for _, sub := range subs {
			if sub.queue.Push(rec) {
				h.logger.Debug("record dropped for slow subscriber",
					slog.String("channel", channel),
					slog.Uint64("id", sub.id),
					slog.Uint64("packet", uint64(rec.Packet)))
			}

			select {
			case sub.notify <- struct{}{}:
			default:
			}
		}
	}
}

// Subscribers returns the number of subscribers on the named channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Close detaches every subscriber and rejects new subscriptions. Queued
// records remain readable until each subscriber drains its queue.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for _, subs := range h.channels {
		for _, sub := range subs {
			sub.close()
		}
	}
	h.channels = make(map[string]map[uint64]*Subscriber)
}
