package session

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
	"github.com/quicktime/orderflow-bubbles/internal/outcome"
	"github.com/quicktime/orderflow-bubbles/internal/storage"
	"github.com/quicktime/orderflow-bubbles/internal/storage/memory"
)

type stubClock struct{ millis int64 }

func (c stubClock) NowMillis() int64 { return c.millis }

func newTestManager(clk stubClock, w *storage.Writer) *Manager {
	return NewManager(Options{
		Session: domain.Session{
			ID:        "sess1",
			StartedAt: 1000,
			Mode:      domain.ModeDemo,
			Symbols:   []string{"NQ"},
		},
		Clock:  clk,
		Writer: w,
		Logger: zerolog.Nop(),
	})
}

func TestManager_AggregatesDriveExtremes(t *testing.T) {
	m := newTestManager(stubClock{millis: 1000}, nil)

	m.ObserveAggregate(domain.Aggregate{ClosePrice: 100, BuyVolume: 30, SellVolume: 20})
	m.ObserveAggregate(domain.Aggregate{ClosePrice: 105, BuyVolume: 10, SellVolume: 0})
	m.ObserveAggregate(domain.Aggregate{ClosePrice: 98, BuyVolume: 0, SellVolume: 5})

	snap := m.Snapshot()
	if snap.SessionHigh != 105 || snap.SessionLow != 98 {
		t.Errorf("High/low wrong: %f/%f", snap.SessionHigh, snap.SessionLow)
	}
	if snap.CurrentPrice != 98 {
		t.Errorf("Current price wrong: %f", snap.CurrentPrice)
	}
	if snap.TotalVolume != 65 {
		t.Errorf("Total volume wrong: %d", snap.TotalVolume)
	}
	if snap.SessionStart != 1000 {
		t.Errorf("Session start wrong: %d", snap.SessionStart)
	}
}

func TestManager_SignalCountsAndOutcomes(t *testing.T) {
	m := newTestManager(stubClock{millis: 1000}, nil)

	m.ObserveSignal(domain.Signal{Type: domain.SignalDeltaFlip, Direction: domain.DirectionBullish})
	m.ObserveSignal(domain.Signal{Type: domain.SignalDeltaFlip, Direction: domain.DirectionBearish})
	m.ObserveSignal(domain.Signal{Type: domain.SignalAbsorption, Direction: domain.DirectionBearish})

	p1 := 101.0
	p5 := 102.0
	m.ObserveUpdate(outcome.Update{
		Signal:       domain.Signal{Type: domain.SignalDeltaFlip, Direction: domain.DirectionBullish, Price: 100},
		PriceAfter1m: &p1,
		PriceAfter5m: &p5,
		Outcome:      domain.OutcomeWin,
	})
	m.ObserveUpdate(outcome.Update{
		Signal:       domain.Signal{Type: domain.SignalDeltaFlip, Direction: domain.DirectionBearish, Price: 100},
		PriceAfter5m: &p5,
		Outcome:      domain.OutcomeLoss,
	})

	snap := m.Snapshot()
	df := snap.DeltaFlips
	if df.Count != 2 || df.BullishCount != 1 || df.BearishCount != 1 {
		t.Errorf("DeltaFlip counts wrong: %+v", df)
	}
	if df.Wins != 1 || df.Losses != 1 || df.WinRate != 50.0 {
		t.Errorf("DeltaFlip outcomes wrong: %+v", df)
	}
	// 1m: one bullish mark of +1.
	if df.AvgMove1m != 1.0 {
		t.Errorf("AvgMove1m wrong: %f", df.AvgMove1m)
	}
	// 5m: bullish +2 and bearish -2 average to zero.
	if df.AvgMove5m != 0.0 {
		t.Errorf("AvgMove5m wrong: %f", df.AvgMove5m)
	}

	if snap.Absorptions.Count != 1 || snap.Absorptions.WinRate != 0 {
		t.Errorf("Absorption stats wrong: %+v", snap.Absorptions)
	}
}

func TestManager_LifecyclePersists(t *testing.T) {
	sessions := memory.NewSessionStore()
	w := storage.NewWriter(storage.WriterOptions{
		Signals:  memory.NewSignalStore(),
		Sessions: sessions,
		Logger:   zerolog.Nop(),
	})

	m := newTestManager(stubClock{millis: 9000}, w)
	m.ObserveAggregate(domain.Aggregate{ClosePrice: 110, BuyVolume: 40, SellVolume: 10})
	m.Close()

	// Drain the queued insert and finalize.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)

	got, err := sessions.GetByID(context.Background(), "sess1")
	if err != nil {
		t.Fatalf("Session not persisted: %v", err)
	}
	if got.EndedAt == nil || *got.EndedAt != 9000 {
		t.Errorf("Session not finalized: %v", got.EndedAt)
	}
	if got.SessionHigh != 110 || got.SessionLow != 110 {
		t.Errorf("Extremes wrong: %f/%f", got.SessionHigh, got.SessionLow)
	}
	if got.TotalVolume != 50 {
		t.Errorf("Total volume wrong: %d", got.TotalVolume)
	}
}
