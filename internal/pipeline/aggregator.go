// Package pipeline holds the per-symbol order-flow state machines: the
// 1-second aggregator, the CVD tracker, the volume profile, the absorption
// and stacked-imbalance detectors, and the confluence engine. All state in
// this package is owned by a single ingest goroutine per symbol; snapshots
// are the only values that cross goroutine boundaries.
package pipeline

import (
	"github.com/quicktime/orderflow-bubbles/internal/domain"
)

// bucket is the open 1-second window for one symbol.
type bucket struct {
	id           int64 // floor(timestamp_ms / 1000)
	buyVolume    int64
	sellVolume   int64
	buyNotional  float64
	sellNotional float64
	openPrice    float64
	closePrice   float64
	tradeCount   int
	lastActivity int64 // pipeline ms of the last appended trade
}

// Aggregator buckets trades of one symbol into fixed 1-second windows.
// Aggregates are emitted in strictly increasing bucket order; empty buckets
// emit nothing.
type Aggregator struct {
	symbol    string
	threshold float64 // significant imbalance ratio

	open       *bucket
	lastClosed int64 // last closed bucket id, for ordering
}

// NewAggregator creates an aggregator for one symbol. threshold is the
// significant-imbalance ratio (default 0.15).
func NewAggregator(symbol string, threshold float64) *Aggregator {
	return &Aggregator{symbol: symbol, threshold: threshold, lastClosed: -1}
}

// Add ingests one trade. If the trade belongs to a later bucket than the
// open one, the open bucket is closed and returned. Trades older than the
// open bucket are rejected (ok=false) and must be counted as malformed by
// the caller.
func (a *Aggregator) Add(t domain.Trade, nowMillis int64) (closed domain.Aggregate, emitted, ok bool) {
	id := t.Bucket()

	if a.open == nil {
		if id <= a.lastClosed {
			return domain.Aggregate{}, false, false
		}
		a.open = a.newBucket(id, t, nowMillis)
		return domain.Aggregate{}, false, true
	}

	switch {
	case id == a.open.id:
		a.append(t, nowMillis)
		return domain.Aggregate{}, false, true
	case id > a.open.id:
		closed = a.seal()
		a.open = a.newBucket(id, t, nowMillis)
		return closed, true, true
	default:
		// out of order past the open bucket
		return domain.Aggregate{}, false, false
	}
}

// OpenPrice returns the first trade price of the open bucket, and whether a
// bucket is open. The absorption detector compares against it to decide
// whether aggressive flow moved the price.
func (a *Aggregator) OpenPrice() (float64, bool) {
	if a.open == nil {
		return 0, false
	}
	return a.open.openPrice, true
}

// FlushIdle closes the open bucket if no trade arrived for idleMillis.
// Used in live and demo modes where the next trade may never come.
func (a *Aggregator) FlushIdle(nowMillis, idleMillis int64) (domain.Aggregate, bool) {
	if a.open == nil || nowMillis-a.open.lastActivity < idleMillis {
		return domain.Aggregate{}, false
	}
	agg := a.seal()
	a.open = nil
	return agg, true
}

// FlushElapsed closes the open bucket once the clock has passed its end.
// Used in replay mode where closure is driven purely by the virtual clock.
func (a *Aggregator) FlushElapsed(nowMillis int64) (domain.Aggregate, bool) {
	if a.open == nil || nowMillis < (a.open.id+1)*1000 {
		return domain.Aggregate{}, false
	}
	agg := a.seal()
	a.open = nil
	return agg, true
}

// FlushAll closes the open bucket unconditionally (shutdown drain).
func (a *Aggregator) FlushAll() (domain.Aggregate, bool) {
	if a.open == nil {
		return domain.Aggregate{}, false
	}
	agg := a.seal()
	a.open = nil
	return agg, true
}

func (a *Aggregator) newBucket(id int64, t domain.Trade, nowMillis int64) *bucket {
	b := &bucket{id: id, openPrice: t.Price}
	a.appendTo(b, t, nowMillis)
	return b
}

func (a *Aggregator) append(t domain.Trade, nowMillis int64) {
	a.appendTo(a.open, t, nowMillis)
}

func (a *Aggregator) appendTo(b *bucket, t domain.Trade, nowMillis int64) {
	size := int64(t.Size)
	notional := t.Price * float64(size)
	if t.Side == domain.SideBuy {
		b.buyVolume += size
		b.buyNotional += notional
	} else {
		b.sellVolume += size
		b.sellNotional += notional
	}
	b.closePrice = t.Price
	b.tradeCount++
	b.lastActivity = nowMillis
}

// seal converts the open bucket into an Aggregate and records its id.
func (a *Aggregator) seal() domain.Aggregate {
	b := a.open
	a.lastClosed = b.id

	total := b.buyVolume + b.sellVolume
	agg := domain.Aggregate{
		Symbol:      a.symbol,
		BucketStart: b.id * 1000,
		BuyVolume:   b.buyVolume,
		SellVolume:  b.sellVolume,
		Delta:       b.buyVolume - b.sellVolume,
		OpenPrice:   b.openPrice,
		ClosePrice:  b.closePrice,
		TradeCount:  b.tradeCount,
	}
	if total > 0 {
		agg.VWAP = (b.buyNotional + b.sellNotional) / float64(total)
		agg.ImbalanceRatio = absInt64(agg.Delta) / float64(total)
		agg.SignificantImbalance = agg.ImbalanceRatio >= a.threshold
	}

	if b.buyVolume >= b.sellVolume {
		agg.DominantSide = domain.SideBuy
		if b.buyVolume > 0 {
			agg.DominantVWAP = b.buyNotional / float64(b.buyVolume)
		} else {
			agg.DominantVWAP = agg.VWAP
		}
	} else {
		agg.DominantSide = domain.SideSell
		agg.DominantVWAP = b.sellNotional / float64(b.sellVolume)
	}

	return agg
}

func absInt64(v int64) float64 {
	if v < 0 {
		return float64(-v)
	}
	return float64(v)
}
