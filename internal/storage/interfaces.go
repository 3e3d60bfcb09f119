package storage

import (
	"context"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
)

// SignalFilter narrows signal queries. Zero values mean "any".
type SignalFilter struct {
	Type      domain.SignalType
	Direction domain.Direction
	Outcome   domain.Outcome

	// Inclusive emission-timestamp range in ms; 0 means unbounded.
	StartMillis int64
	EndMillis   int64

	Limit  int // 0 means no limit
	Offset int
}

// SignalStore provides access to signals storage. Signals are append-only;
// the only in-place update is the outcome fields.
type SignalStore interface {
	// Insert adds a new signal. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, s *domain.Signal) error

	// GetByID retrieves a signal by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Signal, error)

	// Query retrieves signals matching the filter ordered by timestamp DESC,
	// plus the total match count before pagination.
	Query(ctx context.Context, f SignalFilter) ([]*domain.Signal, int, error)

	// UpdateOutcome fills the deferred price marks and the outcome of a
	// signal. Returns ErrNotFound if the signal does not exist.
	UpdateOutcome(ctx context.Context, id string, priceAfter1m, priceAfter5m *float64, outcome domain.Outcome) error

	// StatsByType aggregates outcome statistics per signal type.
	StatsByType(ctx context.Context) (map[domain.SignalType]domain.SignalStats, error)
}

// SessionStore provides access to sessions storage.
type SessionStore interface {
	// Insert adds a new session. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, s *domain.Session) error

	// GetByID retrieves a session by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Session, error)

	// GetRecent retrieves the most recent sessions ordered by started_at DESC.
	GetRecent(ctx context.Context, limit int) ([]*domain.Session, error)

	// Finalize closes a session, recording its end time and running totals.
	// Returns ErrNotFound if the session does not exist.
	Finalize(ctx context.Context, id string, endedAt int64, high, low float64, totalVolume int64) error
}

// PriceSampleStore provides access to price_samples storage.
type PriceSampleStore interface {
	// InsertBulk adds multiple samples.
	InsertBulk(ctx context.Context, samples []*domain.PriceSample) error

	// GetByTimeRange retrieves samples for a symbol within [start, end]
	// (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, symbol string, start, end int64) ([]*domain.PriceSample, error)
}

// Matches reports whether a signal passes the filter; shared by the
// in-memory implementation and tests.
func (f SignalFilter) Matches(s *domain.Signal) bool {
	if f.Type != "" && s.Type != f.Type {
		return false
	}
	if f.Direction != "" && s.Direction != f.Direction {
		return false
	}
	if f.Outcome != "" && s.Outcome != f.Outcome {
		return false
	}
	if f.StartMillis != 0 && s.Timestamp < f.StartMillis {
		return false
	}
	if f.EndMillis != 0 && s.Timestamp > f.EndMillis {
		return false
	}
	return true
}
