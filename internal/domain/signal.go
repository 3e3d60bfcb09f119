package domain

// SignalType identifies the detector that produced a signal.
type SignalType string

const (
	SignalDeltaFlip        SignalType = "delta_flip"
	SignalAbsorption       SignalType = "absorption"
	SignalStackedImbalance SignalType = "stacked_imbalance"
	SignalConfluence       SignalType = "confluence"
)

// SignalTypes lists all signal types in canonical order.
var SignalTypes = []SignalType{
	SignalDeltaFlip,
	SignalAbsorption,
	SignalStackedImbalance,
	SignalConfluence,
}

// Direction is the implied trade direction of a signal.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
)

// Outcome is the realized result of a signal after the 5-minute mark.
// Pending is both the initial state and, when the session ends before the
// mark, the terminal one.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeBreakeven Outcome = "breakeven"
)

// Signal is the persisted record of a detected signal and its outcome.
// PriceAfter1m/5m are nil until the corresponding mark passes.
type Signal struct {
	ID           string // UUID
	SessionID    string // UUID of the owning session
	CreatedAt    int64  // ms, wall clock at persistence
	Timestamp    int64  // ms, pipeline clock at emission
	Type         SignalType
	Direction    Direction
	Price        float64 // price at emission
	PriceAfter1m *float64
	PriceAfter5m *float64
	Outcome      Outcome
}

// DeltaFlip is a CVD zero-cross event.
type DeltaFlip struct {
	Timestamp int64
	Direction Direction
	CVDBefore int64
	CVDAfter  int64
	Price     float64 // last trade price at the flip
}

// StackedImbalance is a maximal run of consecutive one-sided imbalanced
// price levels.
type StackedImbalance struct {
	Timestamp      int64
	Side           Side
	LevelCount     int // >= 3
	PriceHigh      float64
	PriceLow       float64
	TotalImbalance int64
}

// Direction maps the imbalance side to a trade direction.
func (s StackedImbalance) Direction() Direction {
	if s.Side == SideBuy {
		return DirectionBullish
	}
	return DirectionBearish
}

// ConfluenceEvent records two or more distinct signal types agreeing in
// direction within the confluence window.
type ConfluenceEvent struct {
	Timestamp int64
	Price     float64
	Direction Direction
	Score     int      // number of distinct contributing types
	Signals   []string // contributing tags, e.g. "delta_flip_bullish"
}
