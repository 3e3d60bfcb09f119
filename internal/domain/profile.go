package domain

// PriceLevel is one row of the volume profile histogram. Prices are
// quantized to the instrument tick. Invariant: TotalVolume = BuyVolume +
// SellVolume.
type PriceLevel struct {
	Price       float64
	BuyVolume   int64
	SellVolume  int64
	TotalVolume int64
}

// LVNZone is a group of adjacent low-volume levels, reported at their mean
// price.
type LVNZone struct {
	Price      float64 // mean price of the grouped levels
	LevelCount int
	PriceLow   float64
	PriceHigh  float64
}

// ProfileSnapshot is an immutable copy of the volume profile state, emitted
// once per second. Levels are sorted ascending by price.
type ProfileSnapshot struct {
	Symbol   string
	Levels   []PriceLevel
	POC      float64
	VAH      float64
	VAL      float64
	LVNZones []LVNZone
}
