package pipeline

import (
	"math"
	"sort"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
)

// VolumeProfile maintains the per-level buy/sell histogram for one symbol.
// Prices are quantized down to the instrument tick.
type VolumeProfile struct {
	symbol string
	tick   float64
	levels map[int64]*levelVolumes // keyed by floor(price / tick)
}

type levelVolumes struct {
	buy  int64
	sell int64
}

// NewVolumeProfile creates an empty profile. tick is the minimum price
// increment (default 0.25 for index futures).
func NewVolumeProfile(symbol string, tick float64) *VolumeProfile {
	return &VolumeProfile{
		symbol: symbol,
		tick:   tick,
		levels: make(map[int64]*levelVolumes),
	}
}

// Tick returns the instrument tick the profile quantizes to.
func (p *VolumeProfile) Tick() float64 {
	return p.tick
}

// LevelKey quantizes a price to its level key.
func (p *VolumeProfile) LevelKey(price float64) int64 {
	return int64(math.Floor(price / p.tick))
}

// LevelPrice returns the quantized level price for a raw price.
func (p *VolumeProfile) LevelPrice(price float64) float64 {
	return float64(p.LevelKey(price)) * p.tick
}

// Add folds one trade into the histogram.
func (p *VolumeProfile) Add(t domain.Trade) {
	key := p.LevelKey(t.Price)
	lv := p.levels[key]
	if lv == nil {
		lv = &levelVolumes{}
		p.levels[key] = lv
	}
	if t.Side == domain.SideBuy {
		lv.buy += int64(t.Size)
	} else {
		lv.sell += int64(t.Size)
	}
}

// Snapshot computes the derived profile: sorted levels, POC, value area and
// LVN zones. currentPrice breaks POC ties toward the most recent trade.
func (p *VolumeProfile) Snapshot(currentPrice float64) domain.ProfileSnapshot {
	snap := domain.ProfileSnapshot{Symbol: p.symbol}
	if len(p.levels) == 0 {
		return snap
	}

	keys := make([]int64, 0, len(p.levels))
	for k := range p.levels {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var totalVolume int64
	levels := make([]domain.PriceLevel, 0, len(keys))
	for _, k := range keys {
		lv := p.levels[k]
		levels = append(levels, domain.PriceLevel{
			Price:       float64(k) * p.tick,
			BuyVolume:   lv.buy,
			SellVolume:  lv.sell,
			TotalVolume: lv.buy + lv.sell,
		})
		totalVolume += lv.buy + lv.sell
	}
	snap.Levels = levels

	pocIdx := p.pocIndex(levels, currentPrice)
	snap.POC = levels[pocIdx].Price

	low, high := p.valueArea(levels, pocIdx, totalVolume)
	snap.VAL = levels[low].Price
	snap.VAH = levels[high].Price

	snap.LVNZones = p.lvnZones(levels, totalVolume)
	return snap
}

// pocIndex returns the index of the highest-volume level; ties go to the
// level closest to currentPrice.
func (p *VolumeProfile) pocIndex(levels []domain.PriceLevel, currentPrice float64) int {
	best := 0
	for i := 1; i < len(levels); i++ {
		switch {
		case levels[i].TotalVolume > levels[best].TotalVolume:
			best = i
		case levels[i].TotalVolume == levels[best].TotalVolume:
			if math.Abs(levels[i].Price-currentPrice) < math.Abs(levels[best].Price-currentPrice) {
				best = i
			}
		}
	}
	return best
}

// valueArea greedily extends from the POC toward the neighbor with the
// larger volume until at least 70% of total volume is covered. Returns the
// index range [low, high] of the included levels.
func (p *VolumeProfile) valueArea(levels []domain.PriceLevel, pocIdx int, totalVolume int64) (int, int) {
	target := int64(math.Ceil(0.70 * float64(totalVolume)))
	covered := levels[pocIdx].TotalVolume
	low, high := pocIdx, pocIdx

	for covered < target {
		var below, above int64 = -1, -1
		if low > 0 {
			below = levels[low-1].TotalVolume
		}
		if high < len(levels)-1 {
			above = levels[high+1].TotalVolume
		}
		if below < 0 && above < 0 {
			break
		}
		if above >= below {
			high++
			covered += above
		} else {
			low--
			covered += below
		}
	}
	return low, high
}

// lvnZones finds levels with 0 < total < 0.3 * mean and groups consecutive
// ones within 3 ticks into zones reported at the mean price.
func (p *VolumeProfile) lvnZones(levels []domain.PriceLevel, totalVolume int64) []domain.LVNZone {
	mean := float64(totalVolume) / float64(len(levels))
	cutoff := 0.3 * mean

	var lvns []domain.PriceLevel
	for _, lv := range levels {
		if lv.TotalVolume > 0 && float64(lv.TotalVolume) < cutoff {
			lvns = append(lvns, lv)
		}
	}
	if len(lvns) == 0 {
		return nil
	}

	maxGap := 3 * p.tick
	var zones []domain.LVNZone
	start := 0
	for i := 1; i <= len(lvns); i++ {
		if i < len(lvns) && lvns[i].Price-lvns[i-1].Price <= maxGap {
			continue
		}
		group := lvns[start:i]
		var sum float64
		for _, lv := range group {
			sum += lv.Price
		}
		zones = append(zones, domain.LVNZone{
			Price:      sum / float64(len(group)),
			LevelCount: len(group),
			PriceLow:   group[0].Price,
			PriceHigh:  group[len(group)-1].Price,
		})
		start = i
	}
	return zones
}
