package pipeline

import (
	"fmt"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
)

// confluenceEntry is one recent signal held in the sliding window.
type confluenceEntry struct {
	timestamp int64
	typ       domain.SignalType
	direction domain.Direction
	tag       string
	used      bool
}

// ConfluenceEngine correlates recent signals: when two or more distinct
// signal types agree in direction within the window, a confluence event is
// emitted. Each contributing tag participates in at most one confluence.
type ConfluenceEngine struct {
	windowMillis int64
	entries      []confluenceEntry
}

// NewConfluenceEngine creates an engine with the given sliding window
// (default 30 s).
func NewConfluenceEngine(windowMillis int64) *ConfluenceEngine {
	return &ConfluenceEngine{windowMillis: windowMillis}
}

// Observe records a newly emitted signal and checks for confluence. price
// is the emission price of the triggering signal.
func (e *ConfluenceEngine) Observe(typ domain.SignalType, direction domain.Direction, price float64, timestamp int64) *domain.ConfluenceEvent {
	if typ == domain.SignalConfluence {
		return nil
	}

	e.evict(timestamp)
	e.entries = append(e.entries, confluenceEntry{
		timestamp: timestamp,
		typ:       typ,
		direction: direction,
		tag:       fmt.Sprintf("%s_%s", typ, direction),
	})

	dir, ok := e.dominantDirection()
	if !ok {
		return nil
	}

	// collect unused entries agreeing with the dominant direction, one per
	// signal type
	byType := make(map[domain.SignalType]*confluenceEntry)
	for i := range e.entries {
		entry := &e.entries[i]
		if entry.used || entry.direction != dir {
			continue
		}
		if prev, exists := byType[entry.typ]; !exists || entry.timestamp > prev.timestamp {
			byType[entry.typ] = entry
		}
	}
	if len(byType) < 2 {
		return nil
	}

	var tags []string
	for _, st := range domain.SignalTypes {
		if entry, exists := byType[st]; exists {
			entry.used = true
			tags = append(tags, entry.tag)
		}
	}

	return &domain.ConfluenceEvent{
		Timestamp: timestamp,
		Price:     price,
		Direction: dir,
		Score:     len(byType),
		Signals:   tags,
	}
}

// evict drops entries older than the window.
func (e *ConfluenceEngine) evict(nowMillis int64) {
	cutoff := nowMillis - e.windowMillis
	keep := e.entries[:0]
	for _, entry := range e.entries {
		if entry.timestamp >= cutoff {
			keep = append(keep, entry)
		}
	}
	e.entries = keep
}

// dominantDirection picks the direction with the most unused entries;
// ties go to the direction of the most recent entry.
func (e *ConfluenceEngine) dominantDirection() (domain.Direction, bool) {
	var bullish, bearish int
	var lastDir domain.Direction
	var lastTs int64 = -1
	for _, entry := range e.entries {
		if entry.used {
			continue
		}
		if entry.direction == domain.DirectionBullish {
			bullish++
		} else {
			bearish++
		}
		if entry.timestamp >= lastTs {
			lastTs = entry.timestamp
			lastDir = entry.direction
		}
	}
	switch {
	case bullish == 0 && bearish == 0:
		return "", false
	case bullish > bearish:
		return domain.DirectionBullish, true
	case bearish > bullish:
		return domain.DirectionBearish, true
	}
	return lastDir, true
}
