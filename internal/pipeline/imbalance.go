package pipeline

import "github.com/quicktime/orderflow-bubbles/internal/domain"

// trackedRun remembers an already-signalled stacked run so it is re-emitted
// only when it grows.
type trackedRun struct {
	side      domain.Side
	priceLow  float64
	priceHigh float64
	count     int
	seen      bool // matched during the current scan
}

// StackedImbalanceDetector scans the profile ladder for maximal runs of
// consecutive one-sided imbalanced levels.
type StackedImbalanceDetector struct {
	ratio  float64 // per-level imbalance threshold
	minRun int

	runs []*trackedRun
}

// NewStackedImbalanceDetector creates a detector. ratio is the per-level
// imbalance threshold (default 0.67); minRun the minimum run length
// (default 3).
func NewStackedImbalanceDetector(ratio float64, minRun int) *StackedImbalanceDetector {
	return &StackedImbalanceDetector{ratio: ratio, minRun: minRun}
}

// levelSide classifies one level; ok is false when the level is balanced.
func (d *StackedImbalanceDetector) levelSide(lv domain.PriceLevel) (domain.Side, bool) {
	diff := lv.BuyVolume - lv.SellVolume
	if diff < 0 {
		diff = -diff
	}
	denom := lv.TotalVolume
	if denom < 1 {
		denom = 1
	}
	if float64(diff)/float64(denom) < d.ratio {
		return "", false
	}
	if lv.BuyVolume >= lv.SellVolume {
		return domain.SideBuy, true
	}
	return domain.SideSell, true
}

// Scan walks the sorted level ladder and returns the stacked imbalances to
// emit: new runs reaching the minimum length, and known runs whose level
// count increased. Runs that broke since the previous scan are forgotten.
func (d *StackedImbalanceDetector) Scan(levels []domain.PriceLevel, nowMillis int64) []domain.StackedImbalance {
	for _, r := range d.runs {
		r.seen = false
	}

	var out []domain.StackedImbalance
	i := 0
	for i < len(levels) {
		side, ok := d.levelSide(levels[i])
		if !ok {
			i++
			continue
		}
		j := i + 1
		for j < len(levels) {
			s, ok := d.levelSide(levels[j])
			if !ok || s != side {
				break
			}
			j++
		}
		if j-i >= d.minRun {
			if ev := d.observeRun(side, levels[i:j], nowMillis); ev != nil {
				out = append(out, *ev)
			}
		}
		i = j
	}

	// drop runs that no longer exist on the ladder
	alive := d.runs[:0]
	for _, r := range d.runs {
		if r.seen {
			alive = append(alive, r)
		}
	}
	d.runs = alive

	return out
}

// observeRun matches the run against tracked state and decides whether to
// emit.
func (d *StackedImbalanceDetector) observeRun(side domain.Side, run []domain.PriceLevel, nowMillis int64) *domain.StackedImbalance {
	low := run[0].Price
	high := run[len(run)-1].Price

	var tracked *trackedRun
	for _, r := range d.runs {
		if r.side == side && r.priceLow <= high && low <= r.priceHigh {
			tracked = r
			break
		}
	}

	emit := false
	if tracked == nil {
		tracked = &trackedRun{side: side}
		d.runs = append(d.runs, tracked)
		emit = true
	} else if len(run) > tracked.count {
		emit = true
	}
	tracked.priceLow = low
	tracked.priceHigh = high
	tracked.count = len(run)
	tracked.seen = true

	if !emit {
		return nil
	}

	var total int64
	for _, lv := range run {
		diff := lv.BuyVolume - lv.SellVolume
		if diff < 0 {
			diff = -diff
		}
		total += diff
	}
	return &domain.StackedImbalance{
		Timestamp:      nowMillis,
		Side:           side,
		LevelCount:     len(run),
		PriceHigh:      high,
		PriceLow:       low,
		TotalImbalance: total,
	}
}
