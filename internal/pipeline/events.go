package pipeline

import "github.com/quicktime/orderflow-bubbles/internal/domain"

// AggregateEvent is a closed 1-second bucket ready for broadcast. BubbleID
// is the presentation identifier consumers key animations on.
type AggregateEvent struct {
	Aggregate domain.Aggregate
	BubbleID  string
}

// CVDEvent is a new cumulative-delta sample.
type CVDEvent struct {
	Point domain.CVDPoint
}

// ProfileEvent is a once-per-second volume profile snapshot.
type ProfileEvent struct {
	Snapshot domain.ProfileSnapshot
}

// ZonesEvent is a once-per-second snapshot of live absorption zones.
type ZonesEvent struct {
	Timestamp int64
	Zones     []domain.AbsorptionZone
}

// SignalEvent is an emitted signal plus the detector payload that produced
// it. Exactly one payload pointer is set, matching Signal.Type.
type SignalEvent struct {
	Symbol     string
	Signal     domain.Signal
	DeltaFlip  *domain.DeltaFlip
	Absorption *domain.AbsorptionEvent
	Stacked    *domain.StackedImbalance
	Confluence *domain.ConfluenceEvent
}

// Event is one output of the ingest engine. Exactly one field is non-nil.
type Event struct {
	Aggregate *AggregateEvent
	CVD       *CVDEvent
	Profile   *ProfileEvent
	Zones     *ZonesEvent
	Signal    *SignalEvent
}
