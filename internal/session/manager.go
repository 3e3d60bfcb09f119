package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quicktime/orderflow-bubbles/internal/clock"
	"github.com/quicktime/orderflow-bubbles/internal/domain"
	"github.com/quicktime/orderflow-bubbles/internal/hub"
	"github.com/quicktime/orderflow-bubbles/internal/outcome"
	"github.com/quicktime/orderflow-bubbles/internal/storage"
)

// typeStats carries the running sums behind one SignalStats entry.
type typeStats struct {
	stats  domain.SignalStats
	move1m float64
	n1m    int
	move5m float64
	n5m    int
}

// Manager owns the lifetime of one session: it persists the session row,
// accumulates live statistics from the pipeline, broadcasts a stats snapshot
// once a second and finalizes the session on shutdown.
type Manager struct {
	session domain.Session
	clk     clock.Clock
	hub     *hub.Hub
	writer  *storage.Writer
	log     zerolog.Logger

	mu           sync.Mutex
	byType       map[domain.SignalType]*typeStats
	currentPrice float64
	high         float64
	low          float64
	totalVolume  int64
	hasPrice     bool
}

// Options configures a Manager.
type Options struct {
	Session domain.Session
	Clock   clock.Clock
	Hub     *hub.Hub
	Writer  *storage.Writer
	Logger  zerolog.Logger
}

// NewManager creates a manager and queues the session insert.
func NewManager(opts Options) *Manager {
	m := &Manager{
		session: opts.Session,
		clk:     opts.Clock,
		hub:     opts.Hub,
		writer:  opts.Writer,
		log:     opts.Logger.With().Str("component", "session").Str("session_id", opts.Session.ID).Logger(),
		byType:  make(map[domain.SignalType]*typeStats, len(domain.SignalTypes)),
	}
	for _, st := range domain.SignalTypes {
		m.byType[st] = &typeStats{}
	}

	if m.writer != nil {
		m.writer.EnqueueSession(m.session)
	}
	m.log.Info().Str("mode", string(m.session.Mode)).Strs("symbols", m.session.Symbols).Msg("session opened")
	return m
}

// Session returns the session record as opened.
func (m *Manager) Session() domain.Session {
	return m.session
}

// ObserveAggregate folds a closed bucket into the session price extremes and
// volume totals.
func (m *Manager) ObserveAggregate(agg domain.Aggregate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	price := agg.ClosePrice
	if !m.hasPrice {
		m.high = price
		m.low = price
		m.hasPrice = true
	}
	if price > m.high {
		m.high = price
	}
	if price < m.low {
		m.low = price
	}
	m.currentPrice = price
	m.totalVolume += agg.TotalVolume()
}

// ObserveSignal counts an emitted signal.
func (m *Manager) ObserveSignal(sig domain.Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.byType[sig.Type]
	if !ok {
		return
	}
	ts.stats.Count++
	if sig.Direction == domain.DirectionBullish {
		ts.stats.BullishCount++
	} else {
		ts.stats.BearishCount++
	}
}

// ObserveUpdate folds an outcome mark into the per-type statistics.
func (m *Manager) ObserveUpdate(u outcome.Update) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.byType[u.Signal.Type]
	if !ok {
		return
	}

	move := func(after float64) float64 {
		if u.Signal.Direction == domain.DirectionBearish {
			return u.Signal.Price - after
		}
		return after - u.Signal.Price
	}

	if u.PriceAfter1m != nil {
		ts.move1m += move(*u.PriceAfter1m)
		ts.n1m++
	}
	if u.PriceAfter5m != nil {
		ts.move5m += move(*u.PriceAfter5m)
		ts.n5m++
	}

	switch u.Outcome {
	case domain.OutcomeWin:
		ts.stats.Wins++
	case domain.OutcomeLoss:
		ts.stats.Losses++
	}
}

// Snapshot renders the current session statistics.
func (m *Manager) Snapshot() domain.SessionStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	render := func(typ domain.SignalType) domain.SignalStats {
		ts := m.byType[typ]
		out := ts.stats
		if ts.n1m > 0 {
			out.AvgMove1m = ts.move1m / float64(ts.n1m)
		}
		if ts.n5m > 0 {
			out.AvgMove5m = ts.move5m / float64(ts.n5m)
		}
		if resolved := out.Wins + out.Losses; resolved > 0 {
			out.WinRate = float64(out.Wins) / float64(resolved) * 100
		}
		return out
	}

	return domain.SessionStats{
		SessionStart:      m.session.StartedAt,
		DeltaFlips:        render(domain.SignalDeltaFlip),
		Absorptions:       render(domain.SignalAbsorption),
		StackedImbalances: render(domain.SignalStackedImbalance),
		Confluences:       render(domain.SignalConfluence),
		CurrentPrice:      m.currentPrice,
		SessionHigh:       m.high,
		SessionLow:        m.low,
		TotalVolume:       m.totalVolume,
	}
}

// Run broadcasts a stats snapshot once a second until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if m.hub != nil {
				m.hub.Broadcast(hub.NewSessionStats(m.Snapshot()))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close finalizes the session with its end time and running totals.
func (m *Manager) Close() {
	m.mu.Lock()
	high, low, volume := m.high, m.low, m.totalVolume
	m.mu.Unlock()

	endedAt := m.clk.NowMillis()
	if m.writer != nil {
		m.writer.EnqueueSessionFinalize(m.session.ID, endedAt, high, low, volume)
	}
	m.log.Info().Int64("ended_at", endedAt).Int64("total_volume", volume).Msg("session closed")
}
