package lookup

import (
	"errors"
	"sync"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
)

// ErrNoPriceData is returned when a symbol has no recorded prices.
var ErrNoPriceData = errors.New("no price data available")

// PriceAt returns the price at or before the target timestamp. If no price
// exists before the target, the first available price is returned.
// Returns ErrNoPriceData if the slice is empty.
func PriceAt(target int64, samples []*domain.PriceSample) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrNoPriceData
	}

	for i := len(samples) - 1; i >= 0; i-- {
		if samples[i].Timestamp <= target {
			return samples[i].Price, nil
		}
	}

	return samples[0].Price, nil
}

// DefaultRetentionMillis keeps ten minutes of history, comfortably past the
// five-minute outcome mark.
const DefaultRetentionMillis = 10 * 60 * 1000

// Prices is a concurrency-safe per-symbol price history. The pipeline
// records every trade price; outcome evaluation reads the price at a mark
// timestamp.
type Prices struct {
	mu        sync.RWMutex
	bySymbol  map[string][]*domain.PriceSample
	retention int64 // ms of history to keep, 0 keeps everything
}

// NewPrices creates a price history with the given retention window.
func NewPrices(retentionMillis int64) *Prices {
	return &Prices{
		bySymbol:  make(map[string][]*domain.PriceSample),
		retention: retentionMillis,
	}
}

// Record appends an observed price. Timestamps are expected to be roughly
// monotone per symbol; lookups tolerate small inversions.
func (p *Prices) Record(symbol string, timestamp int64, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	samples := append(p.bySymbol[symbol], &domain.PriceSample{
		Symbol:    symbol,
		Timestamp: timestamp,
		Price:     price,
	})

	if p.retention > 0 {
		cutoff := timestamp - p.retention
		start := 0
		for start < len(samples)-1 && samples[start].Timestamp < cutoff {
			start++
		}
		samples = samples[start:]
	}

	p.bySymbol[symbol] = samples
}

// At returns the price for a symbol at or before the target timestamp.
func (p *Prices) At(symbol string, target int64) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return PriceAt(target, p.bySymbol[symbol])
}

// Latest returns the most recently recorded price for a symbol.
func (p *Prices) Latest(symbol string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	samples := p.bySymbol[symbol]
	if len(samples) == 0 {
		return 0, ErrNoPriceData
	}
	return samples[len(samples)-1].Price, nil
}
