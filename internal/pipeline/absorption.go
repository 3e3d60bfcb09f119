package pipeline

import (
	"math"
	"sort"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
)

// KeyLevels carries the profile levels absorption context is tagged
// against.
type KeyLevels struct {
	POC   float64
	VAH   float64
	VAL   float64
	Valid bool
}

// strengthStep is one rung of the absorption ladder. Both thresholds must
// be met.
type strengthStep struct {
	strength domain.Strength
	events   int
	absorbed int64
}

var strengthLadder = []strengthStep{
	{domain.StrengthDefended, 8, 600},
	{domain.StrengthStrong, 5, 300},
	{domain.StrengthMedium, 3, 100},
	{domain.StrengthWeak, 1, 20},
}

// gradeStrength returns the highest rung both counters satisfy.
func gradeStrength(events int, absorbed int64) domain.Strength {
	for _, step := range strengthLadder {
		if events >= step.events && absorbed >= step.absorbed {
			return step.strength
		}
	}
	return ""
}

// accKey identifies one accumulator: a quantized price level and the flow
// being absorbed.
type accKey struct {
	level int64
	typ   domain.AbsorptionType
}

type accumulator struct {
	price         float64
	typ           domain.AbsorptionType
	totalAbsorbed int64
	eventCount    int
	firstSeen     int64
	lastSeen      int64
	emittedRank   int // highest strength rank already signalled
	peak          domain.Strength
}

// AbsorptionDetector accumulates per-level events where large aggressive
// flow fails to move the price within its 1-second bucket.
type AbsorptionDetector struct {
	tick       float64
	minSize    uint32
	idleMillis int64

	accs map[accKey]*accumulator
}

// NewAbsorptionDetector creates a detector. minSize is the qualifying trade
// size (default 20); accumulators idle for idleMillis (default 5 min) are
// pruned.
func NewAbsorptionDetector(tick float64, minSize uint32, idleMillis int64) *AbsorptionDetector {
	return &AbsorptionDetector{
		tick:       tick,
		minSize:    minSize,
		idleMillis: idleMillis,
		accs:       make(map[accKey]*accumulator),
	}
}

// Observe classifies one trade. bucketOpen is the first price of the open
// bucket; cvdSign is the current CVD sign for the against-trend tag. An
// AbsorptionEvent is returned when the accumulator crosses into medium or a
// higher grade.
func (d *AbsorptionDetector) Observe(t domain.Trade, bucketOpen float64, levels KeyLevels, cvdSign int) *domain.AbsorptionEvent {
	if t.Size < d.minSize || !t.Side.Valid() {
		return nil
	}

	priceChange := t.Price - bucketOpen
	var typ domain.AbsorptionType
	switch {
	case t.Side == domain.SideBuy && priceChange <= 0:
		typ = domain.AbsorptionBuying
	case t.Side == domain.SideSell && priceChange >= 0:
		typ = domain.AbsorptionSelling
	default:
		return nil
	}

	levelKey := int64(math.Floor(t.Price / d.tick))
	key := accKey{level: levelKey, typ: typ}
	acc := d.accs[key]
	if acc == nil {
		acc = &accumulator{
			price:     float64(levelKey) * d.tick,
			typ:       typ,
			firstSeen: t.Timestamp,
		}
		d.accs[key] = acc
	}

	acc.totalAbsorbed += int64(t.Size)
	acc.eventCount++
	acc.lastSeen = t.Timestamp

	strength := gradeStrength(acc.eventCount, acc.totalAbsorbed)
	if strength.Rank() > acc.peak.Rank() {
		acc.peak = strength
	}

	// signal only on an upward transition into medium or beyond
	if strength.Rank() < domain.StrengthMedium.Rank() || strength.Rank() <= acc.emittedRank {
		return nil
	}
	acc.emittedRank = strength.Rank()

	ev := &domain.AbsorptionEvent{
		Timestamp:     t.Timestamp,
		Price:         acc.price,
		Type:          typ,
		Delta:         signedAbsorbed(acc),
		PriceChange:   priceChange,
		Strength:      strength,
		EventCount:    acc.eventCount,
		TotalAbsorbed: acc.totalAbsorbed,
		AtKeyLevel:    d.atKeyLevel(acc.price, levels),
		AgainstTrend:  againstTrend(typ, cvdSign),
	}
	return ev
}

// Sweep prunes accumulators idle longer than the idle window.
func (d *AbsorptionDetector) Sweep(nowMillis int64) {
	for key, acc := range d.accs {
		if nowMillis-acc.lastSeen > d.idleMillis {
			delete(d.accs, key)
		}
	}
}

// Zones snapshots the live accumulators, sorted by price then type.
func (d *AbsorptionDetector) Zones(levels KeyLevels, cvdSign int) []domain.AbsorptionZone {
	if len(d.accs) == 0 {
		return nil
	}
	zones := make([]domain.AbsorptionZone, 0, len(d.accs))
	for _, acc := range d.accs {
		strength := gradeStrength(acc.eventCount, acc.totalAbsorbed)
		zones = append(zones, domain.AbsorptionZone{
			Price:         acc.price,
			Type:          acc.typ,
			TotalAbsorbed: acc.totalAbsorbed,
			EventCount:    acc.eventCount,
			FirstSeen:     acc.firstSeen,
			LastSeen:      acc.lastSeen,
			Strength:      strength,
			PeakStrength:  acc.peak,
			AtPOC:         levels.Valid && d.nearLevel(acc.price, levels.POC),
			AtVAH:         levels.Valid && d.nearLevel(acc.price, levels.VAH),
			AtVAL:         levels.Valid && d.nearLevel(acc.price, levels.VAL),
			AgainstTrend:  againstTrend(acc.typ, cvdSign),
		})
	}
	sort.Slice(zones, func(i, j int) bool {
		if zones[i].Price != zones[j].Price {
			return zones[i].Price < zones[j].Price
		}
		return zones[i].Type < zones[j].Type
	})
	return zones
}

func (d *AbsorptionDetector) atKeyLevel(price float64, levels KeyLevels) bool {
	if !levels.Valid {
		return false
	}
	return d.nearLevel(price, levels.POC) || d.nearLevel(price, levels.VAH) || d.nearLevel(price, levels.VAL)
}

func (d *AbsorptionDetector) nearLevel(price, level float64) bool {
	return math.Abs(price-level) <= d.tick
}

// signedAbsorbed reports absorbed volume signed by aggressor side.
func signedAbsorbed(acc *accumulator) int64 {
	if acc.typ == domain.AbsorptionSelling {
		return -acc.totalAbsorbed
	}
	return acc.totalAbsorbed
}

// againstTrend reports whether the implied direction opposes the CVD sign.
func againstTrend(typ domain.AbsorptionType, cvdSign int) bool {
	// absorbed buying implies bearish, absorbed selling implies bullish
	if typ == domain.AbsorptionBuying {
		return cvdSign > 0
	}
	return cvdSign < 0
}
