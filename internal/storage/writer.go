package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
	"github.com/quicktime/orderflow-bubbles/internal/observability"
)

// DefaultBacklog is the bounded write-queue size.
const DefaultBacklog = 10_000

// writeOp is one pending store write. Exactly one field group is set.
type writeOp struct {
	kind string

	signal  *domain.Signal
	session *domain.Session
	samples []*domain.PriceSample

	// outcome update
	signalID     string
	priceAfter1m *float64
	priceAfter5m *float64
	outcome      domain.Outcome

	// session finalize
	sessionID   string
	endedAt     int64
	high, low   float64
	totalVolume int64
}

// Writer serializes all store writes through a single goroutine. Enqueue
// never blocks the pipeline: when the backlog is full the oldest pending
// write is dropped and a counter incremented. Failed writes are retried a
// few times, then dropped.
type Writer struct {
	signals  SignalStore
	sessions SessionStore
	samples  PriceSampleStore // may be nil

	queue   chan writeOp
	dropped atomic.Uint64
	log     zerolog.Logger
	metrics *observability.Metrics

	retries    int
	retryDelay time.Duration
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	Signals  SignalStore
	Sessions SessionStore
	Samples  PriceSampleStore
	Backlog  int
	Metrics  *observability.Metrics
	Logger   zerolog.Logger
}

// NewWriter creates a writer. Run must be started for writes to drain.
func NewWriter(opts WriterOptions) *Writer {
	if opts.Backlog <= 0 {
		opts.Backlog = DefaultBacklog
	}
	return &Writer{
		signals:    opts.Signals,
		sessions:   opts.Sessions,
		samples:    opts.Samples,
		queue:      make(chan writeOp, opts.Backlog),
		log:        opts.Logger.With().Str("component", "store_writer").Logger(),
		metrics:    opts.Metrics,
		retries:    3,
		retryDelay: 250 * time.Millisecond,
	}
}

// Dropped returns how many writes were dropped on backlog overflow or after
// exhausted retries.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// QueueDepth returns the number of pending writes.
func (w *Writer) QueueDepth() int {
	return len(w.queue)
}

// EnqueueSignal queues a signal insert.
func (w *Writer) EnqueueSignal(s domain.Signal) {
	w.enqueue(writeOp{kind: "signal", signal: &s})
}

// EnqueueOutcome queues an outcome update for a signal.
func (w *Writer) EnqueueOutcome(id string, priceAfter1m, priceAfter5m *float64, outcome domain.Outcome) {
	w.enqueue(writeOp{
		kind:         "outcome",
		signalID:     id,
		priceAfter1m: priceAfter1m,
		priceAfter5m: priceAfter5m,
		outcome:      outcome,
	})
}

// EnqueueSession queues a session insert.
func (w *Writer) EnqueueSession(s domain.Session) {
	w.enqueue(writeOp{kind: "session", session: &s})
}

// EnqueueSessionFinalize queues a session finalization.
func (w *Writer) EnqueueSessionFinalize(id string, endedAt int64, high, low float64, totalVolume int64) {
	w.enqueue(writeOp{
		kind:        "session_finalize",
		sessionID:   id,
		endedAt:     endedAt,
		high:        high,
		low:         low,
		totalVolume: totalVolume,
	})
}

// EnqueueSamples queues a bulk price-sample insert. No-op when no sample
// store is configured.
func (w *Writer) EnqueueSamples(samples []*domain.PriceSample) {
	if w.samples == nil || len(samples) == 0 {
		return
	}
	w.enqueue(writeOp{kind: "samples", samples: samples})
}

func (w *Writer) enqueue(op writeOp) {
	select {
	case w.queue <- op:
	default:
		// backlog full: drop the oldest pending write, then retry once
		select {
		case <-w.queue:
			w.dropped.Add(1)
			w.metrics.IncStoreWritesDropped()
		default:
		}
		select {
		case w.queue <- op:
		default:
			w.dropped.Add(1)
			w.metrics.IncStoreWritesDropped()
		}
	}
	w.metrics.SetStoreQueueDepth(len(w.queue))
}

// Run drains the queue until ctx is cancelled, then flushes what remains.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case op := <-w.queue:
			w.apply(ctx, op)
			w.metrics.SetStoreQueueDepth(len(w.queue))
		case <-ctx.Done():
			w.flush()
			return
		}
	}
}

// flush applies all remaining writes with a short deadline so shutdown is
// not held hostage by a dead database.
func (w *Writer) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case op := <-w.queue:
			w.apply(ctx, op)
		default:
			return
		}
	}
}

func (w *Writer) apply(ctx context.Context, op writeOp) {
	var err error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(w.retryDelay):
			case <-ctx.Done():
				return
			}
		}
		err = w.execute(ctx, op)
		if err == nil || errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrInvalidInput) {
			break
		}
		w.metrics.IncStoreWriteErrors()
	}
	if err != nil && !errors.Is(err, ErrDuplicateKey) {
		w.dropped.Add(1)
		w.metrics.IncStoreWritesDropped()
		w.log.Error().Err(err).Str("kind", op.kind).Msg("store write dropped")
		return
	}
	w.metrics.IncStoreWrites(op.kind)
}

func (w *Writer) execute(ctx context.Context, op writeOp) error {
	switch op.kind {
	case "signal":
		return w.signals.Insert(ctx, op.signal)
	case "outcome":
		return w.signals.UpdateOutcome(ctx, op.signalID, op.priceAfter1m, op.priceAfter5m, op.outcome)
	case "session":
		return w.sessions.Insert(ctx, op.session)
	case "session_finalize":
		return w.sessions.Finalize(ctx, op.sessionID, op.endedAt, op.high, op.low, op.totalVolume)
	case "samples":
		return w.samples.InsertBulk(ctx, op.samples)
	}
	return ErrInvalidInput
}
