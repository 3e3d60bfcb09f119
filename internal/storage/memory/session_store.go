package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
	"github.com/quicktime/orderflow-bubbles/internal/storage"
)

// SessionStore is an in-memory implementation of storage.SessionStore.
type SessionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Session // keyed by id
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		data: make(map[string]*domain.Session),
	}
}

// Insert adds a new session. Returns ErrDuplicateKey if the id exists.
func (s *SessionStore) Insert(_ context.Context, sess *domain.Session) error {
	if sess == nil || sess.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sess.ID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := copySession(sess)
	s.data[sess.ID] = copy
	return nil
}

// GetByID retrieves a session by its ID. Returns ErrNotFound if not exists.
func (s *SessionStore) GetByID(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copySession(sess), nil
}

// GetRecent retrieves the most recent sessions ordered by started_at DESC.
func (s *SessionStore) GetRecent(_ context.Context, limit int) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Session, 0, len(s.data))
	for _, sess := range s.data {
		result = append(result, copySession(sess))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt != result[j].StartedAt {
			return result[i].StartedAt > result[j].StartedAt
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// Finalize closes a session, recording its end time and running totals.
func (s *SessionStore) Finalize(_ context.Context, id string, endedAt int64, high, low float64, totalVolume int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}

	end := endedAt
	sess.EndedAt = &end
	sess.SessionHigh = high
	sess.SessionLow = low
	sess.TotalVolume = totalVolume
	return nil
}

func copySession(sess *domain.Session) *domain.Session {
	copy := *sess
	copy.Symbols = append([]string(nil), sess.Symbols...)
	if sess.EndedAt != nil {
		end := *sess.EndedAt
		copy.EndedAt = &end
	}
	return &copy
}

var _ storage.SessionStore = (*SessionStore)(nil)
