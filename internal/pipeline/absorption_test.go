package pipeline

import (
	"testing"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
)

const fiveMinutes = 5 * 60 * 1000

func TestAbsorptionStrengthLadder(t *testing.T) {
	d := NewAbsorptionDetector(0.25, 20, fiveMinutes)

	// 8 large buys at the same price with no upward movement:
	// weak@1, medium@3, strong@5, defended@8 with signals at the last three.
	var events []*domain.AbsorptionEvent
	for i := 0; i < 8; i++ {
		ts := int64(i) * 1000
		ev := d.Observe(trade(ts, 100, 100, domain.SideBuy), 100, KeyLevels{}, 0)
		if ev != nil {
			events = append(events, ev)
		}
	}

	if len(events) != 3 {
		t.Fatalf("events = %d, want 3 (medium, strong, defended)", len(events))
	}
	wantStrengths := []domain.Strength{domain.StrengthMedium, domain.StrengthStrong, domain.StrengthDefended}
	wantCounts := []int{3, 5, 8}
	for i, ev := range events {
		if ev.Strength != wantStrengths[i] {
			t.Errorf("event %d strength = %s, want %s", i, ev.Strength, wantStrengths[i])
		}
		if ev.EventCount != wantCounts[i] {
			t.Errorf("event %d count = %d, want %d", i, ev.EventCount, wantCounts[i])
		}
		if ev.Type != domain.AbsorptionBuying {
			t.Errorf("event %d type = %s, want buying", i, ev.Type)
		}
		if ev.Direction() != domain.DirectionBearish {
			t.Errorf("event %d direction = %s, want bearish", i, ev.Direction())
		}
	}
}

func TestAbsorptionBothThresholdsRequired(t *testing.T) {
	d := NewAbsorptionDetector(0.25, 20, fiveMinutes)

	// 5 events totalling 299: count qualifies for strong, volume does not.
	sizes := []uint32{59, 60, 60, 60, 60}
	var last *domain.AbsorptionEvent
	for i, sz := range sizes {
		if ev := d.Observe(trade(int64(i)*100, 100, sz, domain.SideBuy), 100, KeyLevels{}, 0); ev != nil {
			last = ev
		}
	}
	if last == nil {
		t.Fatal("expected a medium signal")
	}
	if last.Strength != domain.StrengthMedium {
		t.Errorf("strength at (5, 299) = %s, want medium", last.Strength)
	}
	if last.TotalAbsorbed != 299 {
		t.Errorf("total = %d, want 299", last.TotalAbsorbed)
	}
}

func TestAbsorptionRequiresNoAdverseMove(t *testing.T) {
	d := NewAbsorptionDetector(0.25, 20, fiveMinutes)

	// buy that pushed the price up within the bucket: no absorption
	if ev := d.Observe(trade(0, 100.5, 50, domain.SideBuy), 100, KeyLevels{}, 0); ev != nil {
		t.Error("buying that moves price up must not count as absorption")
	}
	// sell with price above bucket open counts as selling absorption
	for i := 0; i < 3; i++ {
		d.Observe(trade(int64(i)*100, 100.5, 50, domain.SideSell), 100, KeyLevels{}, 0)
	}
	zones := d.Zones(KeyLevels{}, 0)
	if len(zones) != 1 || zones[0].Type != domain.AbsorptionSelling {
		t.Fatalf("zones = %+v, want one selling zone", zones)
	}
}

func TestAbsorptionIgnoresSmallTrades(t *testing.T) {
	d := NewAbsorptionDetector(0.25, 20, fiveMinutes)
	for i := 0; i < 50; i++ {
		if ev := d.Observe(trade(int64(i)*100, 100, 19, domain.SideBuy), 100, KeyLevels{}, 0); ev != nil {
			t.Fatal("trades below the size threshold must be ignored")
		}
	}
	if zones := d.Zones(KeyLevels{}, 0); zones != nil {
		t.Errorf("zones = %+v, want none", zones)
	}
}

func TestAbsorptionPruneAfterIdle(t *testing.T) {
	d := NewAbsorptionDetector(0.25, 20, fiveMinutes)
	d.Observe(trade(0, 100, 50, domain.SideBuy), 100, KeyLevels{}, 0)

	d.Sweep(fiveMinutes) // exactly at the window: not yet pruned
	if zones := d.Zones(KeyLevels{}, 0); len(zones) != 1 {
		t.Fatalf("zones after 5min = %d, want 1", len(zones))
	}

	d.Sweep(fiveMinutes + 1)
	if zones := d.Zones(KeyLevels{}, 0); zones != nil {
		t.Errorf("zones after idle prune = %+v, want none", zones)
	}
}

func TestAbsorptionPeakStrengthNeverDowngrades(t *testing.T) {
	d := NewAbsorptionDetector(0.25, 20, fiveMinutes)
	for i := 0; i < 5; i++ {
		d.Observe(trade(int64(i)*1000, 100, 100, domain.SideBuy), 100, KeyLevels{}, 0)
	}
	zones := d.Zones(KeyLevels{}, 0)
	if len(zones) != 1 {
		t.Fatalf("zones = %d, want 1", len(zones))
	}
	if zones[0].PeakStrength != domain.StrengthStrong {
		t.Errorf("peak = %s, want strong", zones[0].PeakStrength)
	}
}

func TestAbsorptionContextTags(t *testing.T) {
	d := NewAbsorptionDetector(0.25, 20, fiveMinutes)
	levels := KeyLevels{POC: 100, VAH: 110, VAL: 90, Valid: true}

	// bearish absorption (buying absorbed) while CVD is positive: both tags
	var ev *domain.AbsorptionEvent
	for i := 0; i < 3; i++ {
		if e := d.Observe(trade(int64(i)*100, 100.25, 50, domain.SideBuy), 100.25, levels, 1); e != nil {
			ev = e
		}
	}
	if ev == nil {
		t.Fatal("expected a medium signal")
	}
	if !ev.AtKeyLevel {
		t.Error("price within one tick of POC must be tagged at_key_level")
	}
	if !ev.AgainstTrend {
		t.Error("bearish absorption with positive CVD must be against_trend")
	}
}
