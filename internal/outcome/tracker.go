package outcome

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quicktime/orderflow-bubbles/internal/clock"
	"github.com/quicktime/orderflow-bubbles/internal/domain"
	"github.com/quicktime/orderflow-bubbles/internal/lookup"
)

// Mark offsets relative to signal emission.
const (
	markOneMinute  = 60_000
	markFiveMinute = 300_000
)

// DefaultWinTicks is the favorable-move threshold, in ticks, for a signal to
// count as a win at the five-minute mark.
const DefaultWinTicks = 4

// Update reports a newly evaluated mark for a tracked signal. PriceAfter1m
// and PriceAfter5m are set only when that mark was evaluated in this update.
// Outcome stays pending until the five-minute mark resolves the signal.
type Update struct {
	Signal       domain.Signal
	Symbol       string
	PriceAfter1m *float64
	PriceAfter5m *float64
	Outcome      domain.Outcome
}

type tracked struct {
	symbol  string
	signal  domain.Signal
	mark1m  *float64
	marked1 bool
}

// Tracker evaluates signal outcomes at the one-minute and five-minute marks
// against the pipeline clock. A signal still pending when the session ends
// stays pending forever.
type Tracker struct {
	clk      clock.Clock
	prices   *lookup.Prices
	tick     float64
	winTicks float64
	onUpdate func(Update)
	log      zerolog.Logger

	mu      sync.Mutex
	pending []*tracked
}

// Options configures a Tracker.
type Options struct {
	Clock    clock.Clock
	Prices   *lookup.Prices
	Tick     float64
	WinTicks float64 // 0 means DefaultWinTicks
	OnUpdate func(Update)
	Logger   zerolog.Logger
}

// NewTracker creates a tracker. Run must be started for marks to fire.
func NewTracker(opts Options) *Tracker {
	if opts.WinTicks <= 0 {
		opts.WinTicks = DefaultWinTicks
	}
	return &Tracker{
		clk:      opts.Clock,
		prices:   opts.Prices,
		tick:     opts.Tick,
		winTicks: opts.WinTicks,
		onUpdate: opts.OnUpdate,
		log:      opts.Logger.With().Str("component", "outcome_tracker").Logger(),
	}
}

// Track registers an emitted signal for outcome evaluation.
func (t *Tracker) Track(symbol string, sig domain.Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, &tracked{symbol: symbol, signal: sig})
}

// PendingCount returns how many signals still await a mark.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Run polls for due marks once a second until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, u := range t.Poll(t.clk.NowMillis()) {
				if t.onUpdate != nil {
					t.onUpdate(u)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Poll evaluates all due marks at the given pipeline time and returns the
// resulting updates. Resolved signals are removed from tracking.
func (t *Tracker) Poll(nowMillis int64) []Update {
	t.mu.Lock()
	defer t.mu.Unlock()

	var updates []Update
	remaining := t.pending[:0]

	for _, tr := range t.pending {
		u, resolved := t.evaluate(tr, nowMillis)
		if u != nil {
			updates = append(updates, *u)
		}
		if !resolved {
			remaining = append(remaining, tr)
		}
	}
	t.pending = remaining

	return updates
}

// SessionEnd abandons all pending signals. Their outcome stays pending.
func (t *Tracker) SessionEnd() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.pending); n > 0 {
		t.log.Info().Int("pending", n).Msg("session ended with unresolved signals")
	}
	t.pending = nil
}

func (t *Tracker) evaluate(tr *tracked, nowMillis int64) (*Update, bool) {
	emitted := tr.signal.Timestamp

	if !tr.marked1 && nowMillis >= emitted+markOneMinute {
		price, err := t.prices.At(tr.symbol, emitted+markOneMinute)
		if err != nil {
			// No history yet; retry on the next poll.
			return nil, false
		}
		tr.mark1m = &price
		tr.marked1 = true

		if nowMillis < emitted+markFiveMinute {
			return &Update{
				Signal:       tr.signal,
				Symbol:       tr.symbol,
				PriceAfter1m: tr.mark1m,
				Outcome:      domain.OutcomePending,
			}, false
		}
	}

	if nowMillis >= emitted+markFiveMinute {
		price, err := t.prices.At(tr.symbol, emitted+markFiveMinute)
		if err != nil {
			return nil, false
		}
		u := &Update{
			Signal:       tr.signal,
			Symbol:       tr.symbol,
			PriceAfter1m: tr.mark1m,
			PriceAfter5m: &price,
			Outcome:      t.resolve(tr.signal, price),
		}
		return u, true
	}

	return nil, false
}

// resolve classifies the five-minute move. The move is signed by direction
// so a favorable move is always positive.
func (t *Tracker) resolve(sig domain.Signal, priceAfter5m float64) domain.Outcome {
	move := priceAfter5m - sig.Price
	if sig.Direction == domain.DirectionBearish {
		move = -move
	}

	threshold := t.winTicks * t.tick
	switch {
	case move >= threshold:
		return domain.OutcomeWin
	case move <= -threshold:
		return domain.OutcomeLoss
	default:
		return domain.OutcomeBreakeven
	}
}
