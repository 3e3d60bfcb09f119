package lookup

import (
	"errors"
	"testing"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
)

func TestPriceAt_EmptySlice(t *testing.T) {
	_, err := PriceAt(1000, nil)
	if !errors.Is(err, ErrNoPriceData) {
		t.Errorf("expected ErrNoPriceData, got %v", err)
	}

	_, err = PriceAt(1000, []*domain.PriceSample{})
	if !errors.Is(err, ErrNoPriceData) {
		t.Errorf("expected ErrNoPriceData, got %v", err)
	}
}

func TestPriceAt_ExactMatch(t *testing.T) {
	samples := []*domain.PriceSample{
		{Timestamp: 1000, Price: 1.0},
		{Timestamp: 2000, Price: 2.0},
		{Timestamp: 3000, Price: 3.0},
	}

	price, err := PriceAt(2000, samples)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 2.0 {
		t.Errorf("expected 2.0, got %f", price)
	}
}

func TestPriceAt_BeforeTarget(t *testing.T) {
	samples := []*domain.PriceSample{
		{Timestamp: 1000, Price: 1.0},
		{Timestamp: 2000, Price: 2.0},
		{Timestamp: 3000, Price: 3.0},
	}

	// Target 2500 should return the price at 2000.
	price, err := PriceAt(2500, samples)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 2.0 {
		t.Errorf("expected 2.0, got %f", price)
	}
}

func TestPriceAt_BeforeFirst(t *testing.T) {
	samples := []*domain.PriceSample{
		{Timestamp: 1000, Price: 1.0},
		{Timestamp: 2000, Price: 2.0},
	}

	// No sample at or before 500: fall back to the first available.
	price, err := PriceAt(500, samples)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 1.0 {
		t.Errorf("expected 1.0, got %f", price)
	}
}

func TestPrices_RecordAndLookup(t *testing.T) {
	p := NewPrices(0)

	p.Record("NQ", 1000, 100.0)
	p.Record("NQ", 2000, 101.0)
	p.Record("ES", 1500, 50.0)

	price, err := p.At("NQ", 1999)
	if err != nil {
		t.Fatalf("At failed: %v", err)
	}
	if price != 100.0 {
		t.Errorf("expected 100.0, got %f", price)
	}

	latest, err := p.Latest("NQ")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest != 101.0 {
		t.Errorf("expected 101.0, got %f", latest)
	}

	// Symbols are isolated.
	price, err = p.At("ES", 2000)
	if err != nil {
		t.Fatalf("At failed: %v", err)
	}
	if price != 50.0 {
		t.Errorf("expected 50.0, got %f", price)
	}

	if _, err := p.At("YM", 1000); !errors.Is(err, ErrNoPriceData) {
		t.Errorf("expected ErrNoPriceData for unknown symbol, got %v", err)
	}
	if _, err := p.Latest("YM"); !errors.Is(err, ErrNoPriceData) {
		t.Errorf("expected ErrNoPriceData for unknown symbol, got %v", err)
	}
}

func TestPrices_RetentionPrunes(t *testing.T) {
	p := NewPrices(5000)

	p.Record("NQ", 1000, 100.0)
	p.Record("NQ", 2000, 101.0)
	p.Record("NQ", 8000, 102.0)

	// 1000 and 2000 are older than 8000-5000.
	if _, err := p.At("NQ", 1500); err != nil {
		t.Fatalf("At failed: %v", err)
	}
	price, _ := p.At("NQ", 1500)
	if price != 102.0 {
		t.Errorf("expected pruned history to fall back to 102.0, got %f", price)
	}

	latest, _ := p.Latest("NQ")
	if latest != 102.0 {
		t.Errorf("expected 102.0, got %f", latest)
	}
}
