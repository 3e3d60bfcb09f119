package domain

// Aggregate summarizes all trades of one symbol within one 1-second bucket.
type Aggregate struct {
	Symbol      string
	BucketStart int64 // bucket start, ms since epoch
	BuyVolume   int64
	SellVolume  int64
	Delta       int64 // BuyVolume - SellVolume

	VWAP         float64 // volume-weighted average price over the whole bucket
	DominantSide Side
	DominantVWAP float64 // volume-weighted average price of the dominant side
	OpenPrice    float64
	ClosePrice   float64
	TradeCount   int

	ImbalanceRatio       float64 // |Delta| / (BuyVolume + SellVolume)
	SignificantImbalance bool    // ImbalanceRatio >= configured threshold
}

// TotalVolume returns the combined buy and sell volume of the bucket.
func (a Aggregate) TotalVolume() int64 {
	return a.BuyVolume + a.SellVolume
}

// DominantVolume returns the volume of the dominant side.
func (a Aggregate) DominantVolume() int64 {
	if a.DominantSide == SideSell {
		return a.SellVolume
	}
	return a.BuyVolume
}

// CVDPoint is one cumulative-volume-delta sample, taken after an Aggregate
// has been applied.
type CVDPoint struct {
	Timestamp int64 // ms
	Value     int64
}
