package source

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
)

// TradeSource delivers trades to the pipeline in timestamp order.
type TradeSource interface {
	// Next blocks until the next trade is available. It returns ErrEnd when
	// the source is exhausted and an error wrapping ErrFatal when the source
	// cannot recover (e.g. rejected credentials).
	Next(ctx context.Context) (domain.Trade, error)

	// Close releases the source. Next returns ErrEnd afterwards.
	Close() error
}

var (
	// ErrEnd signals normal exhaustion of a finite source.
	ErrEnd = errors.New("trade source exhausted")

	// ErrFatal marks failures reconnecting cannot fix.
	ErrFatal = errors.New("unrecoverable source failure")
)

// MinSizeFilter is the runtime-adjustable minimum trade size. Trades below
// it are discarded before they reach the pipeline.
type MinSizeFilter struct {
	min atomic.Uint32
}

// NewMinSizeFilter creates a filter with an initial threshold.
func NewMinSizeFilter(min uint32) *MinSizeFilter {
	f := &MinSizeFilter{}
	f.min.Store(min)
	return f
}

// Get returns the current threshold.
func (f *MinSizeFilter) Get() uint32 {
	return f.min.Load()
}

// Set replaces the threshold. Takes effect on the next trade.
func (f *MinSizeFilter) Set(min uint32) {
	f.min.Store(min)
}

// Pass reports whether a trade clears the threshold.
func (f *MinSizeFilter) Pass(t domain.Trade) bool {
	return t.Size >= f.min.Load()
}

type filteredSource struct {
	src    TradeSource
	filter *MinSizeFilter
}

// WithMinSize wraps a source so that undersized trades are skipped.
func WithMinSize(src TradeSource, filter *MinSizeFilter) TradeSource {
	return &filteredSource{src: src, filter: filter}
}

func (s *filteredSource) Next(ctx context.Context) (domain.Trade, error) {
	for {
		t, err := s.src.Next(ctx)
		if err != nil {
			return domain.Trade{}, err
		}
		if s.filter.Pass(t) {
			return t, nil
		}
	}
}

func (s *filteredSource) Close() error {
	return s.src.Close()
}
