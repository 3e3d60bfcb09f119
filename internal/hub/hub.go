package hub

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/quicktime/orderflow-bubbles/internal/observability"
)

// DefaultSubscriberBuffer is the per-subscriber message buffer.
const DefaultSubscriberBuffer = 1024

// Subscriber is one registered consumer of the broadcast stream. Messages
// are delivered in emission order; when the buffer overflows the oldest
// undelivered message is dropped and the drop counter incremented.
type Subscriber struct {
	ch      chan Message
	dropped atomic.Uint64
	closed  atomic.Bool
}

// C is the subscriber's receive channel. It is closed when the subscriber
// is unsubscribed or the hub shuts down.
func (s *Subscriber) C() <-chan Message {
	return s.ch
}

// Dropped returns how many messages were dropped for this subscriber.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Hub is a multi-producer broadcast channel with per-subscriber bounded
// buffers. The pipeline never blocks on a slow subscriber.
type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscriber]struct{}
	buffer  int
	closed  bool
	log     zerolog.Logger
	metrics *observability.Metrics
}

// Options configures a Hub.
type Options struct {
	SubscriberBuffer int
	Metrics          *observability.Metrics
	Logger           zerolog.Logger
}

// New creates a hub.
func New(opts Options) *Hub {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = DefaultSubscriberBuffer
	}
	return &Hub{
		subs:    make(map[*Subscriber]struct{}),
		buffer:  opts.SubscriberBuffer,
		log:     opts.Logger.With().Str("component", "hub").Logger(),
		metrics: opts.Metrics,
	}
}

// Subscribe registers a new subscriber. Returns nil if the hub is closed.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	s := &Subscriber{ch: make(chan Message, h.buffer)}
	h.subs[s] = struct{}{}
	h.metrics.SetSubscribers(len(h.subs))
	return s
}

// Unsubscribe removes a subscriber and closes its channel. Idempotent.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	h.metrics.SetSubscribers(len(h.subs))
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Broadcast delivers msg to every subscriber, dropping the oldest buffered
// message of any subscriber whose buffer is full.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for s := range h.subs {
		select {
		case s.ch <- msg:
			h.metrics.IncMessagesSent()
			continue
		default:
		}

		// buffer full: evict the oldest, then retry once
		select {
		case <-s.ch:
			s.dropped.Add(1)
			h.metrics.IncMessagesDropped()
		default:
		}
		select {
		case s.ch <- msg:
			h.metrics.IncMessagesSent()
		default:
			s.dropped.Add(1)
			h.metrics.IncMessagesDropped()
		}
	}
}

// SubscriberCount returns the number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close shuts the hub down, closing every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		if s.closed.CompareAndSwap(false, true) {
			close(s.ch)
		}
	}
	h.metrics.SetSubscribers(0)
	h.log.Info().Msg("hub closed")
}
