// Package main runs the orderflow engine: a trade source feeding per-symbol
// aggregation and signal detection, a WebSocket hub broadcasting the
// results, outcome tracking, and persistence behind an async writer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quicktime/orderflow-bubbles/internal/api"
	"github.com/quicktime/orderflow-bubbles/internal/clock"
	"github.com/quicktime/orderflow-bubbles/internal/config"
	"github.com/quicktime/orderflow-bubbles/internal/domain"
	"github.com/quicktime/orderflow-bubbles/internal/hub"
	"github.com/quicktime/orderflow-bubbles/internal/lookup"
	"github.com/quicktime/orderflow-bubbles/internal/observability"
	"github.com/quicktime/orderflow-bubbles/internal/outcome"
	"github.com/quicktime/orderflow-bubbles/internal/pipeline"
	"github.com/quicktime/orderflow-bubbles/internal/session"
	"github.com/quicktime/orderflow-bubbles/internal/source"
	"github.com/quicktime/orderflow-bubbles/internal/storage"
	chstore "github.com/quicktime/orderflow-bubbles/internal/storage/clickhouse"
	"github.com/quicktime/orderflow-bubbles/internal/storage/memory"
	"github.com/quicktime/orderflow-bubbles/internal/storage/migrations"
	pgstore "github.com/quicktime/orderflow-bubbles/internal/storage/postgres"
)

// Exit codes: 1 for configuration errors, 2 for a fatal source failure.
const (
	exitConfig = 1
	exitSource = 2
)

// sampleBatchSize bounds the price-sample batches handed to the writer.
const sampleBatchSize = 200

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to TOML config file")
	demo := flag.Bool("demo", false, "Run the synthetic demo feed")
	replay := flag.Bool("replay", false, "Replay a recorded trade file (requires --replay-file)")
	replayFile := flag.String("replay-file", "", "Databento CSV file to replay")
	replaySpeed := flag.Float64("replay-speed", 1.0, "Initial replay speed factor")
	port := flag.Int("port", 0, "HTTP listen port (overrides config)")
	symbols := flag.String("symbols", "", "Comma-separated symbols (overrides config)")
	minSize := flag.Uint("min-size", 0, "Minimum trade size filter (overrides config)")
	apiKey := flag.String("api-key", "", "Databento API key (overrides config)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (overrides config)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string for price samples (overrides config)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage regardless of DSNs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(exitConfig)
	}

	// Flags win over file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "symbols":
			cfg.Symbols = splitSymbols(*symbols)
		case "min-size":
			cfg.MinSize = uint32(*minSize)
		case "api-key":
			cfg.DatabentoAPIKey = *apiKey
		case "postgres-dsn":
			cfg.PostgresDSN = *postgresDSN
		case "clickhouse-dsn":
			cfg.ClickhouseDSN = *clickhouseDSN
		}
	})

	logger := newLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		os.Exit(exitConfig)
	}

	mode := domain.ModeLive
	switch {
	case *replay || *replayFile != "":
		if *replayFile == "" {
			logger.Error().Msg("--replay requires --replay-file")
			os.Exit(exitConfig)
		}
		mode = domain.ModeReplay
	case *demo:
		mode = domain.ModeDemo
	default:
		if cfg.DatabentoAPIKey == "" {
			logger.Error().Msg("live mode requires DATABENTO_API_KEY (or run with --demo / --replay)")
			os.Exit(exitConfig)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics("orderflow")

	stores, cleanup, err := createStores(ctx, cfg, *useMemory, logger)
	if err != nil {
		logger.Error().Err(err).Msg("storage setup failed")
		os.Exit(exitConfig)
	}
	defer cleanup()

	app, err := newApp(ctx, cfg, mode, *replayFile, *replaySpeed, stores, metrics, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		if errors.Is(err, source.ErrFatal) {
			os.Exit(exitSource)
		}
		os.Exit(exitConfig)
	}

	// First signal starts a graceful shutdown; a second one forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn().Msg("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	if err := app.run(ctx); err != nil {
		if errors.Is(err, source.ErrFatal) {
			logger.Error().Err(err).Msg("trade source failed permanently")
			os.Exit(exitSource)
		}
		logger.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// appStores bundles the three storage interfaces.
type appStores struct {
	signals  storage.SignalStore
	sessions storage.SessionStore
	samples  storage.PriceSampleStore
}

// createStores connects the configured backends and runs migrations.
// Without DSNs (or with --use-memory) everything lives in memory.
func createStores(ctx context.Context, cfg *config.Config, useMemory bool, logger zerolog.Logger) (*appStores, func(), error) {
	if useMemory || cfg.PostgresDSN == "" {
		if !useMemory {
			logger.Info().Msg("no postgres DSN configured, using in-memory storage")
		}
		stores := &appStores{
			signals:  memory.NewSignalStore(),
			sessions: memory.NewSessionStore(),
			samples:  memory.NewPriceSampleStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	stores := &appStores{
		signals:  pgstore.NewSignalStore(pool),
		sessions: pgstore.NewSessionStore(pool),
		samples:  pgstore.NewPriceSampleStore(pool),
	}
	cleanup := func() { pool.Close() }

	// Price samples move to ClickHouse when configured; signals and
	// sessions stay relational.
	if cfg.ClickhouseDSN != "" {
		chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		stores.samples = chstore.NewPriceSampleStore(chConn)
		cleanup = func() {
			chConn.Close()
			pool.Close()
		}
	}

	return stores, cleanup, nil
}

// app owns the running components of one session.
type app struct {
	cfg     *config.Config
	mode    domain.Mode
	log     zerolog.Logger
	metrics *observability.Metrics

	clk       clock.Clock
	replayClk *clock.Replay // nil outside replay mode
	src       source.TradeSource
	filter    *source.MinSizeFilter

	hub     *hub.Hub
	writer  *storage.Writer
	prices  *lookup.Prices
	tracker *outcome.Tracker
	manager *session.Manager
	engines map[string]*pipeline.Engine
	server  *api.Server
}

func newApp(ctx context.Context, cfg *config.Config, mode domain.Mode, replayFile string, replaySpeed float64, stores *appStores, metrics *observability.Metrics, logger zerolog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		mode:    mode,
		log:     logger,
		metrics: metrics,
		filter:  source.NewMinSizeFilter(cfg.MinSize),
		engines: make(map[string]*pipeline.Engine, len(cfg.Symbols)),
	}

	// Clock and raw source per mode. The virtual clock starts at the first
	// recorded trade so buckets line up with the recording.
	switch mode {
	case domain.ModeReplay:
		trades, err := source.LoadCSV(replayFile)
		if err != nil {
			return nil, fmt.Errorf("load replay file: %w", err)
		}
		if len(trades) == 0 {
			return nil, fmt.Errorf("replay file %s contains no trades", replayFile)
		}
		a.replayClk = clock.NewReplay(trades[0].Timestamp, replaySpeed)
		a.clk = a.replayClk
		a.src = source.NewReplay(trades, a.replayClk, logger)
	case domain.ModeDemo:
		a.clk = clock.Wall{}
		a.src = source.NewDemo(cfg.Symbols[0], 0)
	default:
		a.clk = clock.Wall{}
		feed, err := source.NewFeed(ctx, source.FeedOptions{
			Endpoint: cfg.FeedEndpoint,
			APIKey:   cfg.DatabentoAPIKey,
			Symbols:  cfg.Symbols,
			Metrics:  metrics,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("connect feed: %w", err)
		}
		a.src = feed
	}
	a.src = source.WithMinSize(a.src, a.filter)

	a.hub = hub.New(hub.Options{Metrics: metrics, Logger: logger})
	a.prices = lookup.NewPrices(lookup.DefaultRetentionMillis)
	a.writer = storage.NewWriter(storage.WriterOptions{
		Signals:  stores.signals,
		Sessions: stores.sessions,
		Samples:  stores.samples,
		Metrics:  metrics,
		Logger:   logger,
	})

	sess := domain.Session{
		ID:        uuid.NewString(),
		StartedAt: a.clk.NowMillis(),
		Mode:      mode,
		Symbols:   cfg.Symbols,
	}
	a.manager = session.NewManager(session.Options{
		Session: sess,
		Clock:   a.clk,
		Hub:     a.hub,
		Writer:  a.writer,
		Logger:  logger,
	})

	a.tracker = outcome.NewTracker(outcome.Options{
		Clock:  a.clk,
		Prices: a.prices,
		Tick:   0.25,
		OnUpdate: func(u outcome.Update) {
			a.writer.EnqueueOutcome(u.Signal.ID, u.PriceAfter1m, u.PriceAfter5m, u.Outcome)
			a.manager.ObserveUpdate(u)
		},
		Logger: logger,
	})

	for _, sym := range cfg.Symbols {
		a.engines[sym] = pipeline.NewEngine(pipeline.Config{
			Symbol:    sym,
			Mode:      mode,
			SessionID: sess.ID,
		}, a.clk, metrics, logger)
	}

	a.server = api.NewServer(api.Options{
		Addr:     fmt.Sprintf(":%d", cfg.Port),
		Signals:  stores.signals,
		Sessions: stores.sessions,
		Hub:      a.hub,
		Replay:   a.replayClk,
		MinSize:  a.filter,
		Symbols:  cfg.Symbols,
		Mode:     mode,
		Metrics:  metrics,
		Logger:   logger,
	})

	return a, nil
}

// run starts every component and blocks until the source ends or ctx is
// cancelled, then shuts the stack down in dependency order.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		a.writer.Run(ctx)
		close(writerDone)
	}()

	go a.tracker.Run(ctx)
	go a.manager.Run(ctx)

	var fanWG sync.WaitGroup
	for _, eng := range a.engines {
		eng := eng
		go eng.Run(ctx)
		fanWG.Add(1)
		go func() {
			defer fanWG.Done()
			a.fanOut(eng)
		}()
	}

	if a.replayClk != nil {
		go a.broadcastReplayStatus(ctx)
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- a.server.Run() }()

	pumpErr := a.pump(ctx)
	a.src.Close()

	// Source is done: close the engines, drain their event streams, settle
	// outcomes and finalize the session before the writer flushes.
	for _, eng := range a.engines {
		close(eng.Trades())
	}
	fanWG.Wait()

	a.tracker.SessionEnd()
	a.manager.Close()

	// Stop the background loops; the writer drains its queue on the way out.
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("api shutdown failed")
	}
	a.hub.Close()

	<-writerDone

	if pumpErr != nil {
		return pumpErr
	}
	return <-serverErr
}

// pump routes source trades to the per-symbol engines and batches price
// samples for persistence. Returns nil on a normal end of stream.
func (a *app) pump(ctx context.Context) error {
	batch := make([]*domain.PriceSample, 0, sampleBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		a.writer.EnqueueSamples(batch)
		batch = make([]*domain.PriceSample, 0, sampleBatchSize)
	}
	defer flush()

	for {
		t, err := a.src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, source.ErrEnd):
				a.log.Info().Msg("trade source ended")
				return nil
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return nil
			default:
				return err
			}
		}

		eng, ok := a.engines[t.Symbol]
		if !ok {
			continue
		}

		select {
		case eng.Trades() <- t:
		case <-ctx.Done():
			return nil
		}

		a.prices.Record(t.Symbol, t.Timestamp, t.Price)
		batch = append(batch, &domain.PriceSample{Symbol: t.Symbol, Timestamp: t.Timestamp, Price: t.Price})
		if len(batch) >= sampleBatchSize {
			flush()
		}
	}
}

// fanOut converts engine events into hub broadcasts, persistence and
// outcome tracking.
func (a *app) fanOut(eng *pipeline.Engine) {
	for ev := range eng.Events() {
		switch {
		case ev.Aggregate != nil:
			a.hub.Broadcast(hub.NewBubble(ev.Aggregate.BubbleID, ev.Aggregate.Aggregate))
			a.manager.ObserveAggregate(ev.Aggregate.Aggregate)
		case ev.CVD != nil:
			a.hub.Broadcast(hub.NewCVDPoint(ev.CVD.Point))
		case ev.Profile != nil:
			a.hub.Broadcast(hub.NewVolumeProfile(ev.Profile.Snapshot))
		case ev.Zones != nil:
			a.hub.Broadcast(hub.NewAbsorptionZones(ev.Zones.Zones))
		case ev.Signal != nil:
			a.handleSignal(ev.Signal)
		}
	}
}

func (a *app) handleSignal(ev *pipeline.SignalEvent) {
	switch {
	case ev.DeltaFlip != nil:
		a.hub.Broadcast(hub.NewDeltaFlip(*ev.DeltaFlip))
	case ev.Absorption != nil:
		a.hub.Broadcast(hub.NewAbsorption(*ev.Absorption))
	case ev.Stacked != nil:
		a.hub.Broadcast(hub.NewStackedImbalance(*ev.Stacked))
	case ev.Confluence != nil:
		a.hub.Broadcast(hub.NewConfluence(*ev.Confluence))
	}

	a.writer.EnqueueSignal(ev.Signal)
	a.tracker.Track(ev.Symbol, ev.Signal)
	a.manager.ObserveSignal(ev.Signal)
}

// broadcastReplayStatus pushes the virtual clock state once per second.
func (a *app) broadcastReplayStatus(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.hub.Broadcast(hub.NewReplayStatus(a.replayClk.Status()))
		}
	}
}
