package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
	"github.com/quicktime/orderflow-bubbles/internal/storage"
)

// SignalStore implements storage.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *Pool
}

// NewSignalStore creates a new SignalStore.
func NewSignalStore(pool *Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SignalStore = (*SignalStore)(nil)

// Insert adds a new signal. Returns ErrDuplicateKey if the id exists.
func (s *SignalStore) Insert(ctx context.Context, sig *domain.Signal) error {
	if sig == nil || sig.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO signals (
			id, session_id, created_at, ts, signal_type, direction,
			price, price_after_1m, price_after_5m, outcome
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10
		)
	`

	_, err := s.pool.Exec(ctx, query,
		sig.ID, sig.SessionID, sig.CreatedAt, sig.Timestamp, sig.Type, sig.Direction,
		sig.Price, sig.PriceAfter1m, sig.PriceAfter5m, sig.Outcome,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// GetByID retrieves a signal by its ID. Returns ErrNotFound if not exists.
func (s *SignalStore) GetByID(ctx context.Context, id string) (*domain.Signal, error) {
	query := `
		SELECT id, session_id, created_at, ts, signal_type, direction,
			price, price_after_1m, price_after_5m, outcome
		FROM signals
		WHERE id = $1
	`

	row := s.pool.QueryRow(ctx, query, id)
	sig, err := scanSignal(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get signal by id: %w", err)
	}
	return sig, nil
}

// Query retrieves signals matching the filter ordered by timestamp DESC,
// plus the total match count before pagination.
func (s *SignalStore) Query(ctx context.Context, f storage.SignalFilter) ([]*domain.Signal, int, error) {
	where, args := buildSignalWhere(f)

	countQuery := "SELECT count(*) FROM signals" + where
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count signals: %w", err)
	}

	query := `
		SELECT id, session_id, created_at, ts, signal_type, direction,
			price, price_after_1m, price_after_5m, outcome
		FROM signals
	` + where + " ORDER BY ts DESC, id DESC"

	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	signals, err := scanSignals(rows)
	if err != nil {
		return nil, 0, err
	}
	return signals, total, nil
}

// UpdateOutcome fills the deferred price marks and the outcome of a signal.
// Nil marks leave the stored value untouched.
func (s *SignalStore) UpdateOutcome(ctx context.Context, id string, priceAfter1m, priceAfter5m *float64, outcome domain.Outcome) error {
	query := `
		UPDATE signals SET
			price_after_1m = COALESCE($2, price_after_1m),
			price_after_5m = COALESCE($3, price_after_5m),
			outcome = CASE WHEN $4 = '' THEN outcome ELSE $4 END
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query, id, priceAfter1m, priceAfter5m, string(outcome))
	if err != nil {
		return fmt.Errorf("update signal outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// StatsByType aggregates outcome statistics per signal type. Average moves
// are signed by direction so a favorable move is always positive.
func (s *SignalStore) StatsByType(ctx context.Context) (map[domain.SignalType]domain.SignalStats, error) {
	query := `
		SELECT
			signal_type,
			count(*),
			count(*) FILTER (WHERE direction = 'bullish'),
			count(*) FILTER (WHERE direction = 'bearish'),
			count(*) FILTER (WHERE outcome = 'win'),
			count(*) FILTER (WHERE outcome = 'loss'),
			coalesce(avg(CASE WHEN direction = 'bearish' THEN price - price_after_1m
				ELSE price_after_1m - price END), 0),
			coalesce(avg(CASE WHEN direction = 'bearish' THEN price - price_after_5m
				ELSE price_after_5m - price END), 0)
		FROM signals
		GROUP BY signal_type
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query signal stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[domain.SignalType]domain.SignalStats, len(domain.SignalTypes))
	for _, st := range domain.SignalTypes {
		stats[st] = domain.SignalStats{}
	}

	for rows.Next() {
		var typ domain.SignalType
		var st domain.SignalStats
		err := rows.Scan(
			&typ, &st.Count, &st.BullishCount, &st.BearishCount,
			&st.Wins, &st.Losses, &st.AvgMove1m, &st.AvgMove5m,
		)
		if err != nil {
			return nil, fmt.Errorf("scan signal stats row: %w", err)
		}
		if resolved := st.Wins + st.Losses; resolved > 0 {
			st.WinRate = float64(st.Wins) / float64(resolved) * 100
		}
		stats[typ] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signal stats rows: %w", err)
	}

	return stats, nil
}

// buildSignalWhere renders the filter as a WHERE clause with its args.
func buildSignalWhere(f storage.SignalFilter) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Type != "" {
		add("signal_type = $%d", f.Type)
	}
	if f.Direction != "" {
		add("direction = $%d", f.Direction)
	}
	if f.Outcome != "" {
		add("outcome = $%d", f.Outcome)
	}
	if f.StartMillis != 0 {
		add("ts >= $%d", f.StartMillis)
	}
	if f.EndMillis != 0 {
		add("ts <= $%d", f.EndMillis)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// scanSignal scans a single row into a Signal.
func scanSignal(row pgx.Row) (*domain.Signal, error) {
	var sig domain.Signal

	err := row.Scan(
		&sig.ID, &sig.SessionID, &sig.CreatedAt, &sig.Timestamp, &sig.Type, &sig.Direction,
		&sig.Price, &sig.PriceAfter1m, &sig.PriceAfter5m, &sig.Outcome,
	)
	if err != nil {
		return nil, err
	}

	return &sig, nil
}

// scanSignals scans multiple rows into a slice of Signal.
func scanSignals(rows pgx.Rows) ([]*domain.Signal, error) {
	var signals []*domain.Signal

	for rows.Next() {
		var sig domain.Signal

		err := rows.Scan(
			&sig.ID, &sig.SessionID, &sig.CreatedAt, &sig.Timestamp, &sig.Type, &sig.Direction,
			&sig.Price, &sig.PriceAfter1m, &sig.PriceAfter5m, &sig.Outcome,
		)
		if err != nil {
			return nil, fmt.Errorf("scan signal row: %w", err)
		}

		signals = append(signals, &sig)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signal rows: %w", err)
	}

	return signals, nil
}
