package postgres

import (
	"context"
	"fmt"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
	"github.com/quicktime/orderflow-bubbles/internal/storage"
)

// SessionStore implements storage.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *Pool
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(pool *Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SessionStore = (*SessionStore)(nil)

// Insert adds a new session. Returns ErrDuplicateKey if the id exists.
func (s *SessionStore) Insert(ctx context.Context, sess *domain.Session) error {
	if sess == nil || sess.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO sessions (
			id, started_at, ended_at, mode, symbols,
			session_high, session_low, total_volume
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8
		)
	`

	_, err := s.pool.Exec(ctx, query,
		sess.ID, sess.StartedAt, sess.EndedAt, sess.Mode, sess.Symbols,
		sess.SessionHigh, sess.SessionLow, sess.TotalVolume,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by its ID. Returns ErrNotFound if not exists.
func (s *SessionStore) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	query := `
		SELECT id, started_at, ended_at, mode, symbols,
			session_high, session_low, total_volume
		FROM sessions
		WHERE id = $1
	`

	var sess domain.Session
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&sess.ID, &sess.StartedAt, &sess.EndedAt, &sess.Mode, &sess.Symbols,
		&sess.SessionHigh, &sess.SessionLow, &sess.TotalVolume,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get session by id: %w", err)
	}
	return &sess, nil
}

// GetRecent retrieves the most recent sessions ordered by started_at DESC.
func (s *SessionStore) GetRecent(ctx context.Context, limit int) ([]*domain.Session, error) {
	query := `
		SELECT id, started_at, ended_at, mode, symbols,
			session_high, session_low, total_volume
		FROM sessions
		ORDER BY started_at DESC, id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get recent sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		var sess domain.Session
		err := rows.Scan(
			&sess.ID, &sess.StartedAt, &sess.EndedAt, &sess.Mode, &sess.Symbols,
			&sess.SessionHigh, &sess.SessionLow, &sess.TotalVolume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}

	return sessions, nil
}

// Finalize closes a session, recording its end time and running totals.
func (s *SessionStore) Finalize(ctx context.Context, id string, endedAt int64, high, low float64, totalVolume int64) error {
	query := `
		UPDATE sessions SET
			ended_at = $2,
			session_high = $3,
			session_low = $4,
			total_volume = $5
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query, id, endedAt, high, low, totalVolume)
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
