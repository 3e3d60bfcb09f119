package domain

// Side identifies the aggressor side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is one of the known aggressor sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Trade is a single normalized futures execution produced by a trade source.
// Timestamp is milliseconds since the Unix epoch; within a symbol timestamps
// are monotone non-decreasing.
type Trade struct {
	Symbol    string
	Price     float64
	Size      uint32
	Side      Side
	Timestamp int64
}

// Bucket returns the 1-second aggregation bucket the trade belongs to.
// A trade exactly on a bucket boundary belongs to the later bucket.
func (t Trade) Bucket() int64 {
	return t.Timestamp / 1000
}
