package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quicktime/orderflow-bubbles/internal/clock"
	"github.com/quicktime/orderflow-bubbles/internal/domain"
	"github.com/quicktime/orderflow-bubbles/internal/observability"
)

// Config holds the tunable parameters of one ingest engine.
type Config struct {
	Symbol    string
	Mode      domain.Mode
	SessionID string

	Tick                 float64 // instrument tick (default 0.25)
	SignificantImbalance float64 // aggregate imbalance ratio (default 0.15)
	CVDFlipThreshold     int64   // |cvd_prev| hysteresis (default 300)
	AbsorptionMinSize    uint32  // qualifying trade size (default 20)
	AbsorptionIdle       time.Duration
	StackedRatio         float64 // per-level imbalance (default 0.67)
	StackedMinRun        int
	ConfluenceWindow     time.Duration

	TradeBuffer int
	EventBuffer int
}

func (c *Config) applyDefaults() {
	if c.Tick <= 0 {
		c.Tick = 0.25
	}
	if c.SignificantImbalance <= 0 {
		c.SignificantImbalance = 0.15
	}
	if c.CVDFlipThreshold <= 0 {
		c.CVDFlipThreshold = 300
	}
	if c.AbsorptionMinSize == 0 {
		c.AbsorptionMinSize = 20
	}
	if c.AbsorptionIdle <= 0 {
		c.AbsorptionIdle = 5 * time.Minute
	}
	if c.StackedRatio <= 0 {
		c.StackedRatio = 0.67
	}
	if c.StackedMinRun <= 0 {
		c.StackedMinRun = 3
	}
	if c.ConfluenceWindow <= 0 {
		c.ConfluenceWindow = 30 * time.Second
	}
	if c.TradeBuffer <= 0 {
		c.TradeBuffer = 1024
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
}

// Engine is the ingest task for one symbol. It owns the aggregator, CVD,
// profile, absorption and imbalance state; nothing else mutates them.
// Trades go in through Trades(), derived events come out through Events().
type Engine struct {
	cfg     Config
	clk     clock.Clock
	log     zerolog.Logger
	metrics *observability.Metrics

	agg        *Aggregator
	cvd        *CVDTracker
	profile    *VolumeProfile
	absorption *AbsorptionDetector
	stacked    *StackedImbalanceDetector
	confluence *ConfluenceEngine

	trades chan domain.Trade
	events chan Event

	keyLevels KeyLevels
	lastPrice float64
	bubbleSeq int64
	malformed int64
}

// NewEngine wires an engine for one symbol. metrics may be nil.
func NewEngine(cfg Config, clk clock.Clock, metrics *observability.Metrics, log zerolog.Logger) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:        cfg,
		clk:        clk,
		log:        log.With().Str("component", "engine").Str("symbol", cfg.Symbol).Logger(),
		metrics:    metrics,
		agg:        NewAggregator(cfg.Symbol, cfg.SignificantImbalance),
		cvd:        NewCVDTracker(cfg.CVDFlipThreshold),
		profile:    NewVolumeProfile(cfg.Symbol, cfg.Tick),
		absorption: NewAbsorptionDetector(cfg.Tick, cfg.AbsorptionMinSize, cfg.AbsorptionIdle.Milliseconds()),
		stacked:    NewStackedImbalanceDetector(cfg.StackedRatio, cfg.StackedMinRun),
		confluence: NewConfluenceEngine(cfg.ConfluenceWindow.Milliseconds()),
		trades:     make(chan domain.Trade, cfg.TradeBuffer),
		events:     make(chan Event, cfg.EventBuffer),
	}
}

// Trades is the inbound trade channel. Close it to drain and stop the
// engine.
func (e *Engine) Trades() chan<- domain.Trade {
	return e.trades
}

// Events is the outbound event stream. It is closed after the final drain.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// MalformedCount returns the number of rejected trades.
func (e *Engine) MalformedCount() int64 {
	return e.malformed
}

// Run processes trades until the inbound channel closes or ctx is
// cancelled. On shutdown the open bucket is flushed once, then the event
// channel is closed.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	defer close(e.events)

	for {
		select {
		case t, ok := <-e.trades:
			if !ok {
				e.drain()
				return
			}
			e.handleTrade(t)
		case <-ticker.C:
			e.flushTick()
		case <-ctx.Done():
			e.drain()
			return
		}
	}
}

// drain flushes the open bucket once on shutdown.
func (e *Engine) drain() {
	if agg, ok := e.agg.FlushAll(); ok {
		e.processAggregate(agg)
	}
	e.log.Info().Int64("malformed", e.malformed).Msg("engine stopped")
}

// flushTick closes stale buckets: idle-based in live and demo, purely
// clock-based in replay.
func (e *Engine) flushTick() {
	now := e.clk.NowMillis()
	var agg domain.Aggregate
	var ok bool
	if e.cfg.Mode == domain.ModeReplay {
		agg, ok = e.agg.FlushElapsed(now)
	} else {
		agg, ok = e.agg.FlushIdle(now, 1100)
	}
	if ok {
		e.processAggregate(agg)
	}
}

func (e *Engine) handleTrade(t domain.Trade) {
	if !e.validTrade(t) {
		e.malformed++
		e.metrics.IncMalformedTrades()
		return
	}
	e.metrics.IncTradesIngested()

	now := e.clk.NowMillis()
	closed, emitted, ok := e.agg.Add(t, now)
	if !ok {
		e.malformed++
		e.metrics.IncMalformedTrades()
		return
	}
	if emitted {
		e.processAggregate(closed)
	}

	e.profile.Add(t)
	e.lastPrice = t.Price

	bucketOpen, _ := e.agg.OpenPrice()
	if ev := e.absorption.Observe(t, bucketOpen, e.keyLevels, e.cvd.Sign()); ev != nil {
		e.emitSignal(domain.SignalAbsorption, ev.Direction(), ev.Price, ev.Timestamp, SignalEvent{Absorption: ev})
	}
}

func (e *Engine) validTrade(t domain.Trade) bool {
	return t.Symbol == e.cfg.Symbol && t.Side.Valid() && t.Size > 0 && t.Price > 0 && t.Timestamp > 0
}

// processAggregate runs every downstream detector for one closed bucket.
// Event order is fixed: Bubble, CVD, profile, zones, then signals.
func (e *Engine) processAggregate(agg domain.Aggregate) {
	e.metrics.IncAggregates()

	e.bubbleSeq++
	e.emit(Event{Aggregate: &AggregateEvent{
		Aggregate: agg,
		BubbleID:  fmt.Sprintf("bubble-%d", e.bubbleSeq),
	}})

	point, flip := e.cvd.Apply(agg)
	e.emit(Event{CVD: &CVDEvent{Point: point}})

	snap := e.profile.Snapshot(agg.ClosePrice)
	if len(snap.Levels) > 0 {
		e.keyLevels = KeyLevels{POC: snap.POC, VAH: snap.VAH, VAL: snap.VAL, Valid: true}
	}
	e.emit(Event{Profile: &ProfileEvent{Snapshot: snap}})

	now := agg.BucketStart + 1000
	e.absorption.Sweep(now)
	e.emit(Event{Zones: &ZonesEvent{
		Timestamp: now,
		Zones:     e.absorption.Zones(e.keyLevels, e.cvd.Sign()),
	}})

	if flip != nil {
		e.emitSignal(domain.SignalDeltaFlip, flip.Direction, flip.Price, flip.Timestamp, SignalEvent{DeltaFlip: flip})
	}
	for _, si := range e.stacked.Scan(snap.Levels, now) {
		stacked := si
		e.emitSignal(domain.SignalStackedImbalance, stacked.Direction(), agg.ClosePrice, stacked.Timestamp, SignalEvent{Stacked: &stacked})
	}
}

// emitSignal materializes a Signal record, forwards it downstream and feeds
// the confluence window.
func (e *Engine) emitSignal(typ domain.SignalType, dir domain.Direction, price float64, timestamp int64, ev SignalEvent) {
	sig := domain.Signal{
		ID:        uuid.New().String(),
		SessionID: e.cfg.SessionID,
		CreatedAt: time.Now().UnixMilli(),
		Timestamp: timestamp,
		Type:      typ,
		Direction: dir,
		Price:     price,
		Outcome:   domain.OutcomePending,
	}
	ev.Symbol = e.cfg.Symbol
	ev.Signal = sig
	e.emit(Event{Signal: &ev})
	e.metrics.IncSignals(string(typ))

	e.log.Debug().
		Str("signal", string(typ)).
		Str("direction", string(dir)).
		Float64("price", price).
		Msg("signal emitted")

	if conf := e.confluence.Observe(typ, dir, price, timestamp); conf != nil {
		e.emitSignal(domain.SignalConfluence, conf.Direction, conf.Price, conf.Timestamp, SignalEvent{Confluence: conf})
	}
}

func (e *Engine) emit(ev Event) {
	e.events <- ev
}
