package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
	"github.com/quicktime/orderflow-bubbles/internal/storage"
)

// PriceSampleStore is an in-memory implementation of
// storage.PriceSampleStore.
type PriceSampleStore struct {
	mu   sync.RWMutex
	data []*domain.PriceSample
}

// NewPriceSampleStore creates a new in-memory price sample store.
func NewPriceSampleStore() *PriceSampleStore {
	return &PriceSampleStore{}
}

// InsertBulk adds multiple samples.
func (s *PriceSampleStore) InsertBulk(_ context.Context, samples []*domain.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}
	for _, p := range samples {
		if p == nil || p.Symbol == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range samples {
		copy := *p
		s.data = append(s.data, &copy)
	}
	return nil
}

// GetByTimeRange retrieves samples for a symbol within [start, end]
// (inclusive), ordered by timestamp ASC.
func (s *PriceSampleStore) GetByTimeRange(_ context.Context, symbol string, start, end int64) ([]*domain.PriceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceSample
	for _, p := range s.data {
		if p.Symbol == symbol && p.Timestamp >= start && p.Timestamp <= end {
			copy := *p
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})

	return result, nil
}

var _ storage.PriceSampleStore = (*PriceSampleStore)(nil)
