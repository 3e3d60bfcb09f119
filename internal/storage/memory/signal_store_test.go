package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
	"github.com/quicktime/orderflow-bubbles/internal/storage"
)

func TestSignalStore_InsertAndGet(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	sig := &domain.Signal{
		ID:        "sig1",
		SessionID: "sess1",
		Timestamp: 1000,
		Type:      domain.SignalDeltaFlip,
		Direction: domain.DirectionBullish,
		Price:     100.25,
		Outcome:   domain.OutcomePending,
	}

	if err := store.Insert(ctx, sig); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "sig1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}

	if got.Price != 100.25 {
		t.Errorf("Price mismatch: got %f, want %f", got.Price, 100.25)
	}
	if got.Outcome != domain.OutcomePending {
		t.Errorf("Outcome mismatch: got %s", got.Outcome)
	}
}

func TestSignalStore_DuplicateKey(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	sig := &domain.Signal{ID: "sig1", SessionID: "sess1", Type: domain.SignalAbsorption}

	if err := store.Insert(ctx, sig); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, sig)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestSignalStore_NotFound(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	_, err := store.GetByID(ctx, "nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	err = store.UpdateOutcome(ctx, "nonexistent", nil, nil, domain.OutcomeWin)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound from UpdateOutcome, got %v", err)
	}
}

func TestSignalStore_InvalidInput(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	err := store.Insert(ctx, nil)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil, got %v", err)
	}

	err = store.Insert(ctx, &domain.Signal{ID: ""})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty ID, got %v", err)
	}
}

func TestSignalStore_InsertCopies(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	sig := &domain.Signal{ID: "sig1", Price: 100, Type: domain.SignalDeltaFlip}
	if err := store.Insert(ctx, sig); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// Mutating the caller's value must not affect the stored one.
	sig.Price = 999

	got, err := store.GetByID(ctx, "sig1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Price != 100 {
		t.Errorf("Stored signal mutated: got price %f, want 100", got.Price)
	}
}

func TestSignalStore_QueryFilterAndOrder(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	signals := []*domain.Signal{
		{ID: "s1", Timestamp: 1000, Type: domain.SignalDeltaFlip, Direction: domain.DirectionBullish, Outcome: domain.OutcomePending},
		{ID: "s2", Timestamp: 3000, Type: domain.SignalAbsorption, Direction: domain.DirectionBearish, Outcome: domain.OutcomeWin},
		{ID: "s3", Timestamp: 2000, Type: domain.SignalDeltaFlip, Direction: domain.DirectionBearish, Outcome: domain.OutcomeLoss},
		{ID: "s4", Timestamp: 4000, Type: domain.SignalStackedImbalance, Direction: domain.DirectionBullish, Outcome: domain.OutcomePending},
	}
	for _, s := range signals {
		if err := store.Insert(ctx, s); err != nil {
			t.Fatalf("Insert %s failed: %v", s.ID, err)
		}
	}

	all, total, err := store.Query(ctx, storage.SignalFilter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if total != 4 || len(all) != 4 {
		t.Fatalf("Expected 4 signals, got %d (total %d)", len(all), total)
	}
	// Timestamp DESC.
	for i := 1; i < len(all); i++ {
		if all[i-1].Timestamp < all[i].Timestamp {
			t.Errorf("Results not ordered by timestamp DESC: %d before %d", all[i-1].Timestamp, all[i].Timestamp)
		}
	}

	flips, total, err := store.Query(ctx, storage.SignalFilter{Type: domain.SignalDeltaFlip})
	if err != nil {
		t.Fatalf("Query by type failed: %v", err)
	}
	if total != 2 || len(flips) != 2 {
		t.Errorf("Expected 2 delta flips, got %d (total %d)", len(flips), total)
	}

	ranged, _, err := store.Query(ctx, storage.SignalFilter{StartMillis: 2000, EndMillis: 3000})
	if err != nil {
		t.Fatalf("Query by range failed: %v", err)
	}
	if len(ranged) != 2 {
		t.Errorf("Expected 2 signals in [2000,3000], got %d", len(ranged))
	}
}

func TestSignalStore_QueryPagination(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		sig := &domain.Signal{
			ID:        string(rune('a' + i)),
			Timestamp: int64(1000 * (i + 1)),
			Type:      domain.SignalDeltaFlip,
		}
		if err := store.Insert(ctx, sig); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	page, total, err := store.Query(ctx, storage.SignalFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if total != 5 {
		t.Errorf("Expected total 5 regardless of pagination, got %d", total)
	}
	if len(page) != 2 {
		t.Fatalf("Expected page of 2, got %d", len(page))
	}
	// Newest is 5000; offset 1 skips it.
	if page[0].Timestamp != 4000 || page[1].Timestamp != 3000 {
		t.Errorf("Wrong page contents: %d, %d", page[0].Timestamp, page[1].Timestamp)
	}

	empty, total, err := store.Query(ctx, storage.SignalFilter{Offset: 10})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if total != 5 || len(empty) != 0 {
		t.Errorf("Expected empty page with total 5, got %d rows (total %d)", len(empty), total)
	}
}

func TestSignalStore_UpdateOutcome(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	sig := &domain.Signal{
		ID:        "sig1",
		Timestamp: 1000,
		Type:      domain.SignalDeltaFlip,
		Direction: domain.DirectionBullish,
		Price:     100.0,
		Outcome:   domain.OutcomePending,
	}
	if err := store.Insert(ctx, sig); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// First mark: only the 1m price, still pending.
	after1m := 101.0
	if err := store.UpdateOutcome(ctx, "sig1", &after1m, nil, domain.OutcomePending); err != nil {
		t.Fatalf("UpdateOutcome failed: %v", err)
	}

	got, _ := store.GetByID(ctx, "sig1")
	if got.PriceAfter1m == nil || *got.PriceAfter1m != 101.0 {
		t.Fatalf("PriceAfter1m not recorded: %v", got.PriceAfter1m)
	}
	if got.PriceAfter5m != nil {
		t.Errorf("PriceAfter5m should still be nil")
	}
	if got.Outcome != domain.OutcomePending {
		t.Errorf("Outcome should still be pending, got %s", got.Outcome)
	}

	// Second mark resolves the signal.
	after5m := 102.0
	if err := store.UpdateOutcome(ctx, "sig1", nil, &after5m, domain.OutcomeWin); err != nil {
		t.Fatalf("UpdateOutcome failed: %v", err)
	}

	got, _ = store.GetByID(ctx, "sig1")
	if got.PriceAfter1m == nil || *got.PriceAfter1m != 101.0 {
		t.Errorf("PriceAfter1m lost after second update")
	}
	if got.PriceAfter5m == nil || *got.PriceAfter5m != 102.0 {
		t.Errorf("PriceAfter5m not recorded")
	}
	if got.Outcome != domain.OutcomeWin {
		t.Errorf("Expected win, got %s", got.Outcome)
	}
}

func TestSignalStore_StatsByType(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	p := func(v float64) *float64 { return &v }

	signals := []*domain.Signal{
		{ID: "s1", Type: domain.SignalDeltaFlip, Direction: domain.DirectionBullish, Price: 100,
			PriceAfter1m: p(101), PriceAfter5m: p(102), Outcome: domain.OutcomeWin},
		{ID: "s2", Type: domain.SignalDeltaFlip, Direction: domain.DirectionBearish, Price: 100,
			PriceAfter1m: p(101), PriceAfter5m: p(102), Outcome: domain.OutcomeLoss},
		{ID: "s3", Type: domain.SignalDeltaFlip, Direction: domain.DirectionBullish, Price: 100, Outcome: domain.OutcomePending},
		{ID: "s4", Type: domain.SignalAbsorption, Direction: domain.DirectionBearish, Price: 200,
			PriceAfter1m: p(199), Outcome: domain.OutcomeWin},
	}
	for _, s := range signals {
		if err := store.Insert(ctx, s); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	stats, err := store.StatsByType(ctx)
	if err != nil {
		t.Fatalf("StatsByType failed: %v", err)
	}

	df := stats[domain.SignalDeltaFlip]
	if df.Count != 3 || df.BullishCount != 2 || df.BearishCount != 1 {
		t.Errorf("DeltaFlip counts wrong: %+v", df)
	}
	if df.Wins != 1 || df.Losses != 1 {
		t.Errorf("DeltaFlip win/loss wrong: %+v", df)
	}
	if df.WinRate != 50.0 {
		t.Errorf("Expected win rate 50, got %f", df.WinRate)
	}
	// Moves are direction-signed: bullish +1, bearish -1 over 1m.
	if df.AvgMove1m != 0.0 {
		t.Errorf("Expected avg 1m move 0, got %f", df.AvgMove1m)
	}

	ab := stats[domain.SignalAbsorption]
	if ab.Count != 1 || ab.Wins != 1 {
		t.Errorf("Absorption stats wrong: %+v", ab)
	}
	if ab.WinRate != 100.0 {
		t.Errorf("Expected win rate 100, got %f", ab.WinRate)
	}
	if ab.AvgMove1m != 1.0 {
		t.Errorf("Expected bearish avg 1m move +1, got %f", ab.AvgMove1m)
	}

	// Types with no signals still appear, zero-valued.
	if _, ok := stats[domain.SignalConfluence]; !ok {
		t.Errorf("Expected entry for confluence type")
	}
	if stats[domain.SignalConfluence].WinRate != 0 {
		t.Errorf("Expected zero win rate with no resolved signals")
	}
}
