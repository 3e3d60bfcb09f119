package storage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
	"github.com/quicktime/orderflow-bubbles/internal/storage"
	"github.com/quicktime/orderflow-bubbles/internal/storage/memory"
)

func newTestWriter(backlog int) (*storage.Writer, *memory.SignalStore, *memory.SessionStore) {
	signals := memory.NewSignalStore()
	sessions := memory.NewSessionStore()
	w := storage.NewWriter(storage.WriterOptions{
		Signals:  signals,
		Sessions: sessions,
		Samples:  memory.NewPriceSampleStore(),
		Backlog:  backlog,
		Logger:   zerolog.Nop(),
	})
	return w, signals, sessions
}

func TestWriter_SignalRoundTrip(t *testing.T) {
	w, signals, _ := newTestWriter(0)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	w.EnqueueSignal(domain.Signal{
		ID:        "sig1",
		Timestamp: 1000,
		Type:      domain.SignalDeltaFlip,
		Direction: domain.DirectionBullish,
		Price:     100,
		Outcome:   domain.OutcomePending,
	})
	after1m := 101.0
	w.EnqueueOutcome("sig1", &after1m, nil, domain.OutcomePending)

	cancel()
	wg.Wait()

	got, err := signals.GetByID(context.Background(), "sig1")
	if err != nil {
		t.Fatalf("Signal not persisted: %v", err)
	}
	if got.PriceAfter1m == nil || *got.PriceAfter1m != 101.0 {
		t.Errorf("Outcome update not applied: %v", got.PriceAfter1m)
	}
	if w.Dropped() != 0 {
		t.Errorf("Expected no drops, got %d", w.Dropped())
	}
}

func TestWriter_SessionLifecycle(t *testing.T) {
	w, _, sessions := newTestWriter(0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	w.EnqueueSession(domain.Session{ID: "sess1", Mode: domain.ModeDemo, StartedAt: 1000})
	w.EnqueueSessionFinalize("sess1", 9000, 110, 90, 5000)

	cancel()
	<-done

	got, err := sessions.GetByID(context.Background(), "sess1")
	if err != nil {
		t.Fatalf("Session not persisted: %v", err)
	}
	if got.EndedAt == nil || *got.EndedAt != 9000 {
		t.Errorf("Session not finalized: %v", got.EndedAt)
	}
	if got.SessionHigh != 110 || got.SessionLow != 90 || got.TotalVolume != 5000 {
		t.Errorf("Finalize totals wrong: %+v", got)
	}
}

func TestWriter_BacklogDropsOldest(t *testing.T) {
	// Writer not running: everything queues up against a backlog of 3.
	w, signals, _ := newTestWriter(3)

	for i := 0; i < 5; i++ {
		w.EnqueueSignal(domain.Signal{
			ID:        string(rune('a' + i)),
			Timestamp: int64(i),
			Type:      domain.SignalAbsorption,
		})
	}

	if w.Dropped() != 2 {
		t.Errorf("Expected 2 drops, got %d", w.Dropped())
	}
	if w.QueueDepth() != 3 {
		t.Errorf("Expected queue depth 3, got %d", w.QueueDepth())
	}

	// Drain: the three newest survive, the two oldest are gone.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)

	for _, id := range []string{"c", "d", "e"} {
		if _, err := signals.GetByID(context.Background(), id); err != nil {
			t.Errorf("Signal %s should have survived: %v", id, err)
		}
	}
	for _, id := range []string{"a", "b"} {
		if _, err := signals.GetByID(context.Background(), id); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Signal %s should have been dropped", id)
		}
	}
}

func TestWriter_DuplicateNotRetried(t *testing.T) {
	w, signals, _ := newTestWriter(0)

	if err := signals.Insert(context.Background(), &domain.Signal{ID: "sig1", Type: domain.SignalDeltaFlip}); err != nil {
		t.Fatalf("Seed insert failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	start := time.Now()
	w.EnqueueSignal(domain.Signal{ID: "sig1", Type: domain.SignalDeltaFlip})

	// Give the writer a moment, then shut down. A retried duplicate would
	// hold the loop for at least the retry delay.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Duplicate write appears to have been retried (%v)", elapsed)
	}
	if w.Dropped() != 0 {
		t.Errorf("Duplicate insert should not count as dropped, got %d", w.Dropped())
	}
}

func TestWriter_FlushOnShutdown(t *testing.T) {
	w, signals, _ := newTestWriter(0)

	// Enqueue before Run ever starts; cancelled context forces the flush path.
	for i := 0; i < 10; i++ {
		w.EnqueueSignal(domain.Signal{
			ID:        string(rune('a' + i)),
			Timestamp: int64(i),
			Type:      domain.SignalStackedImbalance,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)

	_, total, err := signals.Query(context.Background(), storage.SignalFilter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if total != 10 {
		t.Errorf("Expected all 10 signals flushed, got %d", total)
	}
}
