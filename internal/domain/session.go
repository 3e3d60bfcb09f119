package domain

// Mode selects the trade source feeding a session.
type Mode string

const (
	ModeLive   Mode = "live"
	ModeDemo   Mode = "demo"
	ModeReplay Mode = "replay"
)

// Session is one continuous run of the pipeline. A session exclusively owns
// all signals produced during it.
type Session struct {
	ID          string // UUID
	StartedAt   int64  // ms
	EndedAt     *int64 // ms, nil while open
	Mode        Mode
	Symbols     []string
	SessionHigh float64
	SessionLow  float64
	TotalVolume int64
}

// SignalStats aggregates outcomes for one signal type.
type SignalStats struct {
	Count        int
	BullishCount int
	BearishCount int
	Wins         int
	Losses       int
	AvgMove1m    float64
	AvgMove5m    float64
	WinRate      float64 // percentage of resolved signals that won
}

// SessionStats is the once-per-second stats snapshot broadcast to
// subscribers.
type SessionStats struct {
	SessionStart      int64
	DeltaFlips        SignalStats
	Absorptions       SignalStats
	StackedImbalances SignalStats
	Confluences       SignalStats
	CurrentPrice      float64
	SessionHigh       float64
	SessionLow        float64
	TotalVolume       int64
}

// PriceSample is one observed trade price, persisted for replay and outcome
// evaluation.
type PriceSample struct {
	Symbol    string
	Timestamp int64 // ms
	Price     float64
}
