package source

import (
	"context"
	"time"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
)

// Demo price walk bounds for an NQ-like contract.
const (
	demoStartPrice = 20_100.0
	demoFloorPrice = 20_000.0
	demoCeilPrice  = 20_300.0
	demoTick       = 0.25
)

// Demo generates a realistic-looking trade stream: a tick-sized random walk
// with a slight buy bias and a size mix weighted toward small trades.
type Demo struct {
	symbol string
	price  float64
	rng    uint64
	closed bool

	// test seams
	sleep func(ctx context.Context, d time.Duration) error
	now   func() int64
}

// NewDemo creates a generator for one symbol. The same seed yields the same
// trade sequence apart from timestamps.
func NewDemo(symbol string, seed uint64) *Demo {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Demo{
		symbol: symbol,
		price:  demoStartPrice,
		rng:    seed,
		sleep:  sleepCtx,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

// Next produces the next synthetic trade after a 10-50ms delay.
func (d *Demo) Next(ctx context.Context) (domain.Trade, error) {
	if d.closed {
		return domain.Trade{}, ErrEnd
	}

	delay := time.Duration(d.next()%40+10) * time.Millisecond
	if err := d.sleep(ctx, delay); err != nil {
		return domain.Trade{}, err
	}

	// Walk -2..+2 ticks, clamped to the demo range.
	change := (float64(d.next()%5) - 2.0) * demoTick
	d.price += change
	if d.price < demoFloorPrice {
		d.price = demoFloorPrice
	}
	if d.price > demoCeilPrice {
		d.price = demoCeilPrice
	}

	side := domain.SideSell
	if d.next()%100 < 52 {
		side = domain.SideBuy
	}

	return domain.Trade{
		Symbol:    d.symbol,
		Price:     d.price,
		Size:      d.nextSize(),
		Side:      side,
		Timestamp: d.now(),
	}, nil
}

// Close stops the generator.
func (d *Demo) Close() error {
	d.closed = true
	return nil
}

// nextSize draws a trade size: 85% small lots, 13% mid-size, 2% blocks.
func (d *Demo) nextSize() uint32 {
	switch r := d.next() % 100; {
	case r < 85:
		return uint32(d.next()%5 + 1) // 1-5 contracts
	case r < 98:
		return uint32(d.next()%45 + 5) // 5-49 contracts
	default:
		return uint32(d.next()%100 + 50) // 50-149 contracts
	}
}

// next advances the xorshift PRNG.
func (d *Demo) next() uint64 {
	x := d.rng
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	d.rng = x
	return x
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ TradeSource = (*Demo)(nil)
