package pipeline

import "github.com/quicktime/orderflow-bubbles/internal/domain"

// CVDTracker maintains the session-wide cumulative volume delta and detects
// zero-cross events. A zero cross requires the previous value to be at least
// flipThreshold away from zero, which suppresses flip noise while CVD
// oscillates around the axis.
type CVDTracker struct {
	flipThreshold int64
	cvd           int64
}

// NewCVDTracker creates a tracker. flipThreshold is the hysteresis on
// |cvd_prev| (default 300).
func NewCVDTracker(flipThreshold int64) *CVDTracker {
	return &CVDTracker{flipThreshold: flipThreshold}
}

// Value returns the current cumulative volume delta.
func (c *CVDTracker) Value() int64 {
	return c.cvd
}

// Sign returns -1, 0 or +1 for the current CVD value.
func (c *CVDTracker) Sign() int {
	switch {
	case c.cvd > 0:
		return 1
	case c.cvd < 0:
		return -1
	}
	return 0
}

// Apply folds one Aggregate into the CVD. It returns the new sample and,
// when the update crossed zero with sufficient magnitude, a DeltaFlip.
func (c *CVDTracker) Apply(agg domain.Aggregate) (domain.CVDPoint, *domain.DeltaFlip) {
	prev := c.cvd
	c.cvd += agg.Delta

	point := domain.CVDPoint{
		Timestamp: agg.BucketStart,
		Value:     c.cvd,
	}

	if !crossedZero(prev, c.cvd) || absInt64(prev) < float64(c.flipThreshold) {
		return point, nil
	}

	flip := &domain.DeltaFlip{
		Timestamp: agg.BucketStart,
		Direction: domain.DirectionBullish,
		CVDBefore: prev,
		CVDAfter:  c.cvd,
		Price:     agg.ClosePrice,
	}
	if c.cvd < 0 {
		flip.Direction = domain.DirectionBearish
	}
	return point, flip
}

// crossedZero reports a strict sign change: both values non-zero, opposite
// signs.
func crossedZero(prev, now int64) bool {
	return (prev > 0 && now < 0) || (prev < 0 && now > 0)
}
