package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
)

// stubClock is a fixed pipeline clock; trades drive all bucket closures.
type stubClock struct {
	millis int64
}

func (c *stubClock) NowMillis() int64 { return c.millis }

// runEngine feeds the trades through a fresh engine and collects every
// event until the engine drains.
func runEngine(t *testing.T, cfg Config, trades []domain.Trade) []Event {
	t.Helper()
	cfg.Mode = domain.ModeReplay // keeps the idle flusher off the virtual clock
	eng := NewEngine(cfg, &stubClock{}, nil, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		eng.Run(context.Background())
		close(done)
	}()

	go func() {
		for _, tr := range trades {
			eng.Trades() <- tr
		}
		close(eng.trades)
	}()

	var events []Event
	for ev := range eng.Events() {
		events = append(events, ev)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	return events
}

func TestEngineEndToEndAggregation(t *testing.T) {
	trades := []domain.Trade{
		trade(0, 100, 10, domain.SideBuy),
		trade(500, 100, 20, domain.SideSell),
		trade(1200, 101, 5, domain.SideBuy),
	}
	events := runEngine(t, Config{Symbol: "NQ", SessionID: "s1"}, trades)

	var aggs []domain.Aggregate
	var cvds []int64
	for _, ev := range events {
		if ev.Aggregate != nil {
			aggs = append(aggs, ev.Aggregate.Aggregate)
		}
		if ev.CVD != nil {
			cvds = append(cvds, ev.CVD.Point.Value)
		}
	}

	if len(aggs) != 2 {
		t.Fatalf("aggregates = %d, want 2", len(aggs))
	}
	if aggs[0].BuyVolume != 10 || aggs[0].SellVolume != 20 || aggs[0].Delta != -10 {
		t.Errorf("aggregate 0 = %+v", aggs[0])
	}
	if aggs[1].BuyVolume != 5 || aggs[1].SellVolume != 0 || aggs[1].Delta != 5 {
		t.Errorf("aggregate 1 = %+v", aggs[1])
	}
	if len(cvds) != 2 || cvds[0] != -10 || cvds[1] != -5 {
		t.Errorf("cvd samples = %v, want [-10 -5]", cvds)
	}
}

func TestEngineBubbleIDsAreSequential(t *testing.T) {
	trades := []domain.Trade{
		trade(0, 100, 1, domain.SideBuy),
		trade(1000, 100, 1, domain.SideBuy),
		trade(2000, 100, 1, domain.SideBuy),
	}
	events := runEngine(t, Config{Symbol: "NQ", SessionID: "s1"}, trades)

	var ids []string
	for _, ev := range events {
		if ev.Aggregate != nil {
			ids = append(ids, ev.Aggregate.BubbleID)
		}
	}
	want := []string{"bubble-1", "bubble-2", "bubble-3"}
	if len(ids) != len(want) {
		t.Fatalf("bubbles = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("bubble %d = %s, want %s", i, ids[i], want[i])
		}
	}
}

func TestEngineAbsorptionSignalFlow(t *testing.T) {
	// 8 large buys at a flat price across 8 buckets: absorption signals at
	// medium, strong and defended.
	var trades []domain.Trade
	for i := 0; i < 8; i++ {
		trades = append(trades, trade(int64(i)*1000, 100, 100, domain.SideBuy))
	}
	events := runEngine(t, Config{Symbol: "NQ", SessionID: "s1"}, trades)

	var signals []SignalEvent
	for _, ev := range events {
		if ev.Signal != nil && ev.Signal.Signal.Type == domain.SignalAbsorption {
			signals = append(signals, *ev.Signal)
		}
	}
	if len(signals) != 3 {
		t.Fatalf("absorption signals = %d, want 3", len(signals))
	}
	for _, se := range signals {
		if se.Signal.Direction != domain.DirectionBearish {
			t.Errorf("direction = %s, want bearish", se.Signal.Direction)
		}
		if se.Signal.Outcome != domain.OutcomePending {
			t.Errorf("outcome = %s, want pending", se.Signal.Outcome)
		}
		if se.Absorption == nil {
			t.Error("absorption payload missing")
		}
	}
}

func TestEngineRejectsMalformedTrades(t *testing.T) {
	trades := []domain.Trade{
		trade(1000, 100, 1, domain.SideBuy),
		{Symbol: "NQ", Price: 100, Size: 1, Side: "hold", Timestamp: 1100}, // bad side
		{Symbol: "ES", Price: 100, Size: 1, Side: domain.SideBuy, Timestamp: 1200}, // wrong symbol
		{Symbol: "NQ", Price: 0, Size: 1, Side: domain.SideBuy, Timestamp: 1300},   // bad price
		trade(500, 100, 1, domain.SideBuy), // out of order past the open bucket
	}
	cfg := Config{Symbol: "NQ", SessionID: "s1", Mode: domain.ModeReplay}
	eng := NewEngine(cfg, &stubClock{}, nil, zerolog.Nop())

	go eng.Run(context.Background())
	for _, tr := range trades {
		eng.Trades() <- tr
	}
	close(eng.trades)
	for range eng.Events() {
	}

	if got := eng.MalformedCount(); got != 4 {
		t.Errorf("malformed = %d, want 4", got)
	}
}

// eventFingerprint summarizes an event without run-specific fields
// (signal UUIDs, wall-clock CreatedAt).
func eventFingerprint(ev Event) string {
	switch {
	case ev.Aggregate != nil:
		a := ev.Aggregate.Aggregate
		return fmt.Sprintf("agg:%d:%d:%d:%s", a.BucketStart, a.BuyVolume, a.SellVolume, a.DominantSide)
	case ev.CVD != nil:
		return fmt.Sprintf("cvd:%d:%d", ev.CVD.Point.Timestamp, ev.CVD.Point.Value)
	case ev.Profile != nil:
		s := ev.Profile.Snapshot
		return fmt.Sprintf("profile:%d:%v:%v:%v", len(s.Levels), s.POC, s.VAH, s.VAL)
	case ev.Zones != nil:
		return fmt.Sprintf("zones:%d:%d", ev.Zones.Timestamp, len(ev.Zones.Zones))
	case ev.Signal != nil:
		s := ev.Signal.Signal
		return fmt.Sprintf("signal:%s:%s:%v:%d", s.Type, s.Direction, s.Price, s.Timestamp)
	}
	return "empty"
}

func TestEngineDeterministicAcrossRuns(t *testing.T) {
	var trades []domain.Trade
	for i := 0; i < 40; i++ {
		side := domain.SideBuy
		if i%3 == 0 {
			side = domain.SideSell
		}
		trades = append(trades, trade(int64(i)*400, 100+float64(i%5)*0.25, uint32(10+i*7%90), side))
	}

	var baseline []string
	for run := 0; run < 5; run++ {
		events := runEngine(t, Config{Symbol: "NQ", SessionID: "s1"}, trades)
		prints := make([]string, len(events))
		for i, ev := range events {
			prints[i] = eventFingerprint(ev)
		}
		if run == 0 {
			baseline = prints
			continue
		}
		if len(prints) != len(baseline) {
			t.Fatalf("run %d: %d events, want %d", run, len(prints), len(baseline))
		}
		for i := range prints {
			if prints[i] != baseline[i] {
				t.Fatalf("run %d event %d = %q, want %q", run, i, prints[i], baseline[i])
			}
		}
	}
}
