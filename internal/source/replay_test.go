package source

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quicktime/orderflow-bubbles/internal/clock"
	"github.com/quicktime/orderflow-bubbles/internal/domain"
)

const sampleCSV = `ts_recv,ts_event,rtype,publisher_id,instrument_id,action,side,depth,price,size,flags,ts_in_delta,sequence,symbol
x,2000,0,1,1,T,B,0,100.25,5,0,0,1,NQ
x,1000,0,1,1,T,A,0,100.00,3,0,0,2,NQ
x,1500,0,1,1,C,B,0,100.50,2,0,0,3,NQ
x,3000,0,1,1,T,N,0,100.75,1,0,0,4,NQ
x,4000,0,1,1,T,B,0,101.00,10,0,0,5,NQ
`

func TestParseCSV_FiltersAndSorts(t *testing.T) {
	trades, err := ParseCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ParseCSV failed: %v", err)
	}

	// Non-trade action and unknown side are dropped; rest sorted by timestamp.
	if len(trades) != 3 {
		t.Fatalf("Expected 3 trades, got %d", len(trades))
	}
	if trades[0].Timestamp != 1000 || trades[1].Timestamp != 2000 || trades[2].Timestamp != 4000 {
		t.Errorf("Wrong order: %d, %d, %d", trades[0].Timestamp, trades[1].Timestamp, trades[2].Timestamp)
	}
	if trades[0].Side != domain.SideSell || trades[1].Side != domain.SideBuy {
		t.Errorf("Sides mapped wrong: %s, %s", trades[0].Side, trades[1].Side)
	}
	if trades[1].Price != 100.25 || trades[1].Size != 5 {
		t.Errorf("Row fields wrong: %+v", trades[1])
	}
}

func TestParseCSV_RFC3339Timestamps(t *testing.T) {
	csv := "ts_event,side,price,size,symbol\n" +
		"2024-03-01T14:30:00.5Z,B,100.25,5,NQ\n"

	trades, err := ParseCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ParseCSV failed: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("Expected 1 trade, got %d", len(trades))
	}

	want := time.Date(2024, 3, 1, 14, 30, 0, 500_000_000, time.UTC).UnixMilli()
	if trades[0].Timestamp != want {
		t.Errorf("Expected timestamp %d, got %d", want, trades[0].Timestamp)
	}
}

func TestParseCSV_MissingColumn(t *testing.T) {
	csv := "ts_event,side,price,symbol\n1000,B,100.0,NQ\n"
	_, err := ParseCSV(strings.NewReader(csv))
	if err == nil {
		t.Fatal("Expected error for missing size column")
	}
}

func TestReplay_DeliversInOrderAndEnds(t *testing.T) {
	trades := []domain.Trade{
		{Symbol: "NQ", Timestamp: 1000, Price: 100, Size: 1, Side: domain.SideBuy},
		{Symbol: "NQ", Timestamp: 1100, Price: 100.25, Size: 2, Side: domain.SideSell},
		{Symbol: "NQ", Timestamp: 1200, Price: 100.5, Size: 3, Side: domain.SideBuy},
	}

	// High speed keeps the test fast while still exercising pacing.
	clk := clock.NewReplay(1000, 1000)
	r := NewReplay(trades, clk, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i, want := range trades {
		got, err := r.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d failed: %v", i, err)
		}
		if got != want {
			t.Errorf("Trade %d mismatch: got %+v", i, got)
		}
		if clk.NowMillis() < got.Timestamp {
			t.Errorf("Trade %d delivered before the virtual clock reached it", i)
		}
	}

	if _, err := r.Next(ctx); !errors.Is(err, ErrEnd) {
		t.Errorf("Expected ErrEnd, got %v", err)
	}
	if r.Remaining() != 0 {
		t.Errorf("Expected no remaining trades, got %d", r.Remaining())
	}
}

func TestReplay_JumpsLargeGaps(t *testing.T) {
	trades := []domain.Trade{
		{Symbol: "NQ", Timestamp: 1000, Price: 100, Size: 1, Side: domain.SideBuy},
		// An hour of recording silence follows.
		{Symbol: "NQ", Timestamp: 3_601_000, Price: 101, Size: 1, Side: domain.SideBuy},
	}

	clk := clock.NewReplay(1000, 1)
	r := NewReplay(trades, clk, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := r.Next(ctx); err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	start := time.Now()
	got, err := r.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Gap was not skipped, waited %v", elapsed)
	}
	if got.Timestamp != 3_601_000 {
		t.Errorf("Wrong trade after gap: %+v", got)
	}
	if clk.NowMillis() < 3_601_000 {
		t.Errorf("Clock did not jump past the gap: %d", clk.NowMillis())
	}
}

func TestReplay_CloseEndsStream(t *testing.T) {
	clk := clock.NewReplay(0, 1)
	r := NewReplay([]domain.Trade{{Timestamp: 1000}}, clk, zerolog.Nop())
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := r.Next(context.Background()); !errors.Is(err, ErrEnd) {
		t.Errorf("Expected ErrEnd after close, got %v", err)
	}
}
