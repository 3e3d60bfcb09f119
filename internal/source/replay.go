package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/quicktime/orderflow-bubbles/internal/clock"
	"github.com/quicktime/orderflow-bubbles/internal/domain"
)

// Replay pacing constants. Gaps that would take longer than maxGapMillis of
// real time at the current speed are jumped over.
const (
	replayPollInterval = 10 * time.Millisecond
	maxGapMillis       = 5000
)

// Replay streams recorded trades paced by a virtual clock. Pausing the
// clock freezes delivery; jumps skip quiet stretches of the recording.
type Replay struct {
	trades []domain.Trade
	idx    int
	clk    *clock.Replay
	closed bool
	log    zerolog.Logger
}

// NewReplay creates a replay source over trades already sorted by timestamp.
func NewReplay(trades []domain.Trade, clk *clock.Replay, log zerolog.Logger) *Replay {
	return &Replay{
		trades: trades,
		clk:    clk,
		log:    log.With().Str("component", "replay_source").Logger(),
	}
}

// Next blocks until the virtual clock reaches the next trade's timestamp.
func (r *Replay) Next(ctx context.Context) (domain.Trade, error) {
	if r.closed || r.idx >= len(r.trades) {
		return domain.Trade{}, ErrEnd
	}

	t := r.trades[r.idx]
	for {
		now := r.clk.NowMillis()
		if now >= t.Timestamp {
			break
		}

		if st := r.clk.Status(); !st.Paused {
			gap := t.Timestamp - now
			if float64(gap)/st.Speed > maxGapMillis {
				r.log.Debug().Int64("gap_ms", gap).Msg("skipping recording gap")
				r.clk.Jump(t.Timestamp)
				break
			}
		}

		select {
		case <-ctx.Done():
			return domain.Trade{}, ctx.Err()
		case <-time.After(replayPollInterval):
		}
	}

	r.idx++
	if r.idx%10000 == 0 {
		r.log.Info().
			Int("replayed", r.idx).
			Int("total", len(r.trades)).
			Msg("replay progress")
	}
	return t, nil
}

// Close stops the replay.
func (r *Replay) Close() error {
	r.closed = true
	return nil
}

// Remaining returns how many trades are left to deliver.
func (r *Replay) Remaining() int {
	return len(r.trades) - r.idx
}

var _ TradeSource = (*Replay)(nil)

// LoadCSV reads a recorded trade file. The file carries a header naming at
// least ts_event, side, price, size and symbol columns; an action column,
// when present, limits rows to trade prints ("T"). Rows with unknown sides
// are skipped. The result is sorted by timestamp.
func LoadCSV(path string) ([]domain.Trade, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	trades, err := ParseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("parse replay file %s: %w", path, err)
	}
	return trades, nil
}

// ParseCSV reads recorded trades from r. See LoadCSV for the format.
func ParseCSV(r io.Reader) ([]domain.Trade, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"ts_event", "side", "price", "size", "symbol"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("csv header missing %q column", required)
		}
	}
	actionCol, hasAction := col["action"]

	var trades []domain.Trade
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}

		if hasAction && row[actionCol] != "T" {
			continue
		}

		var side domain.Side
		switch row[col["side"]] {
		case "B", "buy":
			side = domain.SideBuy
		case "A", "sell":
			side = domain.SideSell
		default:
			continue
		}

		ts, err := parseTimestamp(row[col["ts_event"]])
		if err != nil {
			return nil, err
		}
		price, err := strconv.ParseFloat(row[col["price"]], 64)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", row[col["price"]], err)
		}
		size, err := strconv.ParseUint(row[col["size"]], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse size %q: %w", row[col["size"]], err)
		}

		trades = append(trades, domain.Trade{
			Symbol:    row[col["symbol"]],
			Price:     price,
			Size:      uint32(size),
			Side:      side,
			Timestamp: ts,
		})
	}

	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp < trades[j].Timestamp
	})

	return trades, nil
}

// parseTimestamp accepts RFC3339 or epoch milliseconds.
func parseTimestamp(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UnixMilli(), nil
}
