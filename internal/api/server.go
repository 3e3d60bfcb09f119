// Package api serves the REST endpoints and the WebSocket stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/quicktime/orderflow-bubbles/internal/clock"
	"github.com/quicktime/orderflow-bubbles/internal/domain"
	"github.com/quicktime/orderflow-bubbles/internal/hub"
	"github.com/quicktime/orderflow-bubbles/internal/observability"
	"github.com/quicktime/orderflow-bubbles/internal/source"
	"github.com/quicktime/orderflow-bubbles/internal/storage"
)

const (
	defaultSignalLimit  = 100
	maxSignalLimit      = 1000
	defaultSessionLimit = 20
)

// Server exposes signal history, session records, exports and the live
// WebSocket stream over HTTP.
type Server struct {
	signals  storage.SignalStore
	sessions storage.SessionStore
	hub      *hub.Hub
	replay   *clock.Replay // nil outside replay mode
	minSize  *source.MinSizeFilter
	symbols  []string
	mode     domain.Mode
	metrics  *observability.Metrics
	log      zerolog.Logger
	static   string
	server   *http.Server
}

// Options configures NewServer. Replay is nil unless the process runs in
// replay mode; MinSize may be nil when the trade size filter is not
// adjustable at runtime.
type Options struct {
	Addr     string
	Signals  storage.SignalStore
	Sessions storage.SessionStore
	Hub      *hub.Hub
	Replay   *clock.Replay
	MinSize  *source.MinSizeFilter
	Symbols  []string
	Mode     domain.Mode
	Metrics  *observability.Metrics
	Logger   zerolog.Logger

	// StaticDir holds the built dashboard assets; empty defaults to "dist".
	// The prefix route is skipped when the directory does not exist.
	StaticDir string
}

// NewServer creates the HTTP server. Call Run to start serving.
func NewServer(opts Options) *Server {
	s := &Server{
		signals:  opts.Signals,
		sessions: opts.Sessions,
		hub:      opts.Hub,
		replay:   opts.Replay,
		minSize:  opts.MinSize,
		symbols:  opts.Symbols,
		mode:     opts.Mode,
		metrics:  opts.Metrics,
		log:      opts.Logger.With().Str("component", "api").Logger(),
		static:   opts.StaticDir,
	}
	if s.static == "" {
		s.static = "dist"
	}

	s.server = &http.Server{
		Addr:    opts.Addr,
		Handler: s.handler(),
	}
	return s
}

func (s *Server) handler() http.Handler {
	router := mux.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           3600,
	})

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/signals", s.getSignals).Methods("GET")
	api.HandleFunc("/signals/export", s.exportSignals).Methods("GET")
	api.HandleFunc("/stats", s.getStats).Methods("GET")
	api.HandleFunc("/sessions", s.getSessions).Methods("GET")

	router.HandleFunc("/health", s.getHealth).Methods("GET")
	router.Handle("/metrics", observability.Handler()).Methods("GET")
	router.HandleFunc("/ws", s.handleWS)

	if info, err := os.Stat(s.static); err == nil && info.IsDir() {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.static)))
	}

	return c.Handler(router)
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("api server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// signalJSON is the wire shape of a persisted signal. Field names match
// the WebSocket message casing.
type signalJSON struct {
	ID           string   `json:"id"`
	SessionID    string   `json:"sessionId"`
	CreatedAt    int64    `json:"createdAt"`
	Timestamp    int64    `json:"timestamp"`
	SignalType   string   `json:"signalType"`
	Direction    string   `json:"direction"`
	Price        float64  `json:"price"`
	PriceAfter1m *float64 `json:"priceAfter1m"`
	PriceAfter5m *float64 `json:"priceAfter5m"`
	Outcome      string   `json:"outcome"`
}

func toSignalJSON(s *domain.Signal) signalJSON {
	return signalJSON{
		ID:           s.ID,
		SessionID:    s.SessionID,
		CreatedAt:    s.CreatedAt,
		Timestamp:    s.Timestamp,
		SignalType:   string(s.Type),
		Direction:    string(s.Direction),
		Price:        s.Price,
		PriceAfter1m: s.PriceAfter1m,
		PriceAfter5m: s.PriceAfter5m,
		Outcome:      string(s.Outcome),
	}
}

type sessionJSON struct {
	ID          string   `json:"id"`
	StartedAt   int64    `json:"startedAt"`
	EndedAt     *int64   `json:"endedAt"`
	Mode        string   `json:"mode"`
	Symbols     []string `json:"symbols"`
	SessionHigh float64  `json:"sessionHigh"`
	SessionLow  float64  `json:"sessionLow"`
	TotalVolume int64    `json:"totalVolume"`
}

type statsJSON struct {
	Count        int     `json:"count"`
	BullishCount int     `json:"bullishCount"`
	BearishCount int     `json:"bearishCount"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	AvgMove1m    float64 `json:"avgMove1m"`
	AvgMove5m    float64 `json:"avgMove5m"`
	WinRate      float64 `json:"winRate"`
}

// signalFilterFromQuery parses the shared signal filter parameters.
// Pagination is parsed separately because the export endpoint ignores it.
func signalFilterFromQuery(r *http.Request) (storage.SignalFilter, error) {
	q := r.URL.Query()

	f := storage.SignalFilter{
		Type:      domain.SignalType(q.Get("signal_type")),
		Direction: domain.Direction(q.Get("direction")),
		Outcome:   domain.Outcome(q.Get("outcome")),
	}

	if v := q.Get("start_date"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("invalid start_date %q", v)
		}
		f.StartMillis = ms
	}
	if v := q.Get("end_date"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("invalid end_date %q", v)
		}
		f.EndMillis = ms
	}
	return f, nil
}

func (s *Server) getSignals(w http.ResponseWriter, r *http.Request) {
	f, err := signalFilterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	f.Limit = defaultSignalLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, fmt.Sprintf("invalid limit %q", v), http.StatusBadRequest)
			return
		}
		if n > maxSignalLimit {
			n = maxSignalLimit
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, fmt.Sprintf("invalid offset %q", v), http.StatusBadRequest)
			return
		}
		f.Offset = n
	}

	signals, total, err := s.signals.Query(r.Context(), f)
	if err != nil {
		s.log.Error().Err(err).Msg("signal query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	out := make([]signalJSON, 0, len(signals))
	for _, sig := range signals {
		out = append(out, toSignalJSON(sig))
	}

	response := struct {
		Signals []signalJSON `json:"signals"`
		Total   int          `json:"total"`
	}{
		Signals: out,
		Total:   total,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.signals.StatsByType(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("stats query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	out := make(map[string]statsJSON, len(stats))
	for typ, st := range stats {
		out[string(typ)] = statsJSON{
			Count:        st.Count,
			BullishCount: st.BullishCount,
			BearishCount: st.BearishCount,
			Wins:         st.Wins,
			Losses:       st.Losses,
			AvgMove1m:    st.AvgMove1m,
			AvgMove5m:    st.AvgMove5m,
			WinRate:      st.WinRate,
		}
	}

	response := struct {
		Stats map[string]statsJSON `json:"stats"`
	}{
		Stats: out,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) getSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, fmt.Sprintf("invalid limit %q", v), http.StatusBadRequest)
			return
		}
		limit = n
	}

	sessions, err := s.sessions.GetRecent(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("session query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	out := make([]sessionJSON, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionJSON{
			ID:          sess.ID,
			StartedAt:   sess.StartedAt,
			EndedAt:     sess.EndedAt,
			Mode:        string(sess.Mode),
			Symbols:     sess.Symbols,
			SessionHigh: sess.SessionHigh,
			SessionLow:  sess.SessionLow,
			TotalVolume: sess.TotalVolume,
		})
	}

	response := struct {
		Sessions []sessionJSON `json:"sessions"`
		Count    int           `json:"count"`
	}{
		Sessions: out,
		Count:    len(out),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) exportSignals(w http.ResponseWriter, r *http.Request) {
	f, err := signalFilterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		http.Error(w, fmt.Sprintf("unsupported format %q", format), http.StatusBadRequest)
		return
	}

	signals, _, err := s.signals.Query(r.Context(), f)
	if err != nil {
		s.log.Error().Err(err).Msg("export query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	stamp := time.Now().UTC().Format("20060102T150405Z")

	if format == "json" {
		out := make([]signalJSON, 0, len(signals))
		for _, sig := range signals {
			out = append(out, toSignalJSON(sig))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=signals_%s.json", stamp))
		json.NewEncoder(w).Encode(struct {
			Signals []signalJSON `json:"signals"`
		}{Signals: out})
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=signals_%s.csv", stamp))
	w.Write([]byte(RenderSignalsCSV(signals)))
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	response := struct {
		Status      string   `json:"status"`
		Mode        string   `json:"mode"`
		Symbols     []string `json:"symbols"`
		Subscribers int      `json:"subscribers"`
	}{
		Status:      "ok",
		Mode:        string(s.mode),
		Symbols:     s.symbols,
		Subscribers: s.hub.SubscriberCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
