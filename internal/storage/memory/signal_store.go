package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
	"github.com/quicktime/orderflow-bubbles/internal/storage"
)

// SignalStore is an in-memory implementation of storage.SignalStore.
type SignalStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Signal // keyed by id
}

// NewSignalStore creates a new in-memory signal store.
func NewSignalStore() *SignalStore {
	return &SignalStore{
		data: make(map[string]*domain.Signal),
	}
}

// Insert adds a new signal. Returns ErrDuplicateKey if the id exists.
func (s *SignalStore) Insert(_ context.Context, sig *domain.Signal) error {
	if sig == nil || sig.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sig.ID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *sig
	s.data[sig.ID] = &copy
	return nil
}

// GetByID retrieves a signal by its ID. Returns ErrNotFound if not exists.
func (s *SignalStore) GetByID(_ context.Context, id string) (*domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sig, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *sig
	return &copy, nil
}

// Query retrieves signals matching the filter ordered by timestamp DESC,
// plus the total match count before pagination.
func (s *SignalStore) Query(_ context.Context, f storage.SignalFilter) ([]*domain.Signal, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.Signal
	for _, sig := range s.data {
		if f.Matches(sig) {
			copy := *sig
			matched = append(matched, &copy)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Timestamp != matched[j].Timestamp {
			return matched[i].Timestamp > matched[j].Timestamp
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

// UpdateOutcome fills the deferred price marks and the outcome of a signal.
func (s *SignalStore) UpdateOutcome(_ context.Context, id string, priceAfter1m, priceAfter5m *float64, outcome domain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}

	if priceAfter1m != nil {
		v := *priceAfter1m
		sig.PriceAfter1m = &v
	}
	if priceAfter5m != nil {
		v := *priceAfter5m
		sig.PriceAfter5m = &v
	}
	if outcome != "" {
		sig.Outcome = outcome
	}
	return nil
}

// StatsByType aggregates outcome statistics per signal type.
func (s *SignalStore) StatsByType(_ context.Context) (map[domain.SignalType]domain.SignalStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type sums struct {
		stats  domain.SignalStats
		move1m float64
		n1m    int
		move5m float64
		n5m    int
	}

	acc := make(map[domain.SignalType]*sums)
	for _, st := range domain.SignalTypes {
		acc[st] = &sums{}
	}

	for _, sig := range s.data {
		a, exists := acc[sig.Type]
		if !exists {
			continue
		}
		a.stats.Count++
		if sig.Direction == domain.DirectionBullish {
			a.stats.BullishCount++
		} else {
			a.stats.BearishCount++
		}
		switch sig.Outcome {
		case domain.OutcomeWin:
			a.stats.Wins++
		case domain.OutcomeLoss:
			a.stats.Losses++
		}
		if sig.PriceAfter1m != nil {
			a.move1m += directionalMove(sig, *sig.PriceAfter1m)
			a.n1m++
		}
		if sig.PriceAfter5m != nil {
			a.move5m += directionalMove(sig, *sig.PriceAfter5m)
			a.n5m++
		}
	}

	out := make(map[domain.SignalType]domain.SignalStats, len(acc))
	for st, a := range acc {
		if a.n1m > 0 {
			a.stats.AvgMove1m = a.move1m / float64(a.n1m)
		}
		if a.n5m > 0 {
			a.stats.AvgMove5m = a.move5m / float64(a.n5m)
		}
		if resolved := a.stats.Wins + a.stats.Losses; resolved > 0 {
			a.stats.WinRate = float64(a.stats.Wins) / float64(resolved) * 100
		}
		out[st] = a.stats
	}
	return out, nil
}

// directionalMove signs a price move by the signal's direction.
func directionalMove(sig *domain.Signal, after float64) float64 {
	if sig.Direction == domain.DirectionBearish {
		return sig.Price - after
	}
	return after - sig.Price
}

var _ storage.SignalStore = (*SignalStore)(nil)
