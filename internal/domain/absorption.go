package domain

// AbsorptionType classifies which aggressor flow is being absorbed.
type AbsorptionType string

const (
	AbsorptionBuying  AbsorptionType = "buying"  // aggressive buying absorbed by passive sellers
	AbsorptionSelling AbsorptionType = "selling" // aggressive selling absorbed by passive buyers
)

// Strength grades an absorption accumulator. Ordering matters: each grade
// requires both an event count and a total absorbed volume.
type Strength string

const (
	StrengthWeak     Strength = "weak"
	StrengthMedium   Strength = "medium"
	StrengthStrong   Strength = "strong"
	StrengthDefended Strength = "defended"
)

// Rank returns the ladder position of the strength, weak = 1.
func (s Strength) Rank() int {
	switch s {
	case StrengthWeak:
		return 1
	case StrengthMedium:
		return 2
	case StrengthStrong:
		return 3
	case StrengthDefended:
		return 4
	}
	return 0
}

// AbsorptionZone is a snapshot of one live per-level accumulator.
// PeakStrength never downgrades even when the current Strength would.
type AbsorptionZone struct {
	Price         float64
	Type          AbsorptionType
	TotalAbsorbed int64
	EventCount    int
	FirstSeen     int64 // ms
	LastSeen      int64 // ms
	Strength      Strength
	PeakStrength  Strength
	AtPOC         bool
	AtVAH         bool
	AtVAL         bool
	AgainstTrend  bool
}

// AbsorptionEvent is emitted when an accumulator crosses into medium or a
// higher grade.
type AbsorptionEvent struct {
	Timestamp     int64
	Price         float64
	Type          AbsorptionType
	Delta         int64
	PriceChange   float64
	Strength      Strength
	EventCount    int
	TotalAbsorbed int64
	AtKeyLevel    bool
	AgainstTrend  bool
}

// Direction returns the trade direction implied by the absorption: absorbed
// buying means sellers are defending the level (bearish), and vice versa.
func (e AbsorptionEvent) Direction() Direction {
	if e.Type == AbsorptionBuying {
		return DirectionBearish
	}
	return DirectionBullish
}
