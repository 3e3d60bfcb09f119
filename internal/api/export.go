package api

import (
	"fmt"
	"strings"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
)

// RenderSignalsCSV renders signals as a CSV string. Unresolved price marks
// render as empty cells.
func RenderSignalsCSV(signals []*domain.Signal) string {
	var sb strings.Builder

	// Header
	sb.WriteString("id,session_id,timestamp,signal_type,direction,price,")
	sb.WriteString("price_after_1m,price_after_5m,outcome,created_at\n")

	// Rows
	for _, s := range signals {
		sb.WriteString(fmt.Sprintf("%s,%s,%d,%s,%s,%.4f,%s,%s,%s,%d\n",
			s.ID,
			s.SessionID,
			s.Timestamp,
			s.Type,
			s.Direction,
			s.Price,
			csvFloat(s.PriceAfter1m),
			csvFloat(s.PriceAfter5m),
			s.Outcome,
			s.CreatedAt,
		))
	}

	return sb.String()
}

func csvFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.4f", *v)
}
