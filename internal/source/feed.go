package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quicktime/orderflow-bubbles/internal/domain"
	"github.com/quicktime/orderflow-bubbles/internal/observability"
)

// FeedConfig configures the live feed client.
type FeedConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration
	// ReconnectJitter is added or subtracted at random from each delay.
	ReconnectJitter time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is the timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultFeedConfig returns the default feed configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReconnectJitter:   1 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// feedRequest is an outbound gateway command.
type feedRequest struct {
	Action  string   `json:"action"`
	Key     string   `json:"key,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
	Schema  string   `json:"schema,omitempty"`
}

// feedMessage is an inbound gateway message.
type feedMessage struct {
	Type    string  `json:"type"`
	Message string  `json:"message,omitempty"`
	Symbol  string  `json:"symbol,omitempty"`
	Price   float64 `json:"price,omitempty"`
	Size    uint32  `json:"size,omitempty"`
	Side    string  `json:"side,omitempty"`
	TsEvent int64   `json:"ts_event,omitempty"`
}

// Feed streams live trades from the market-data gateway over a WebSocket.
// Connection drops trigger reconnection with exponential backoff and
// resubscription; a rejected API key is fatal.
type Feed struct {
	endpoint string
	apiKey   string
	symbols  []string
	config   FeedConfig

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	trades     chan domain.Trade
	tradesOnce sync.Once
	fatalMu    sync.Mutex
	fatalErr   error

	done chan struct{}
	wg   sync.WaitGroup

	log     zerolog.Logger
	metrics *observability.Metrics
}

// FeedOptions configures NewFeed.
type FeedOptions struct {
	Endpoint string
	APIKey   string
	Symbols  []string
	Config   *FeedConfig
	Metrics  *observability.Metrics
	Logger   zerolog.Logger
}

// NewFeed creates a feed client and establishes the first connection. The
// initial dial and subscribe must succeed; later drops are retried in the
// background.
func NewFeed(ctx context.Context, opts FeedOptions) (*Feed, error) {
	cfg := DefaultFeedConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}

	f := &Feed{
		endpoint: opts.Endpoint,
		apiKey:   opts.APIKey,
		symbols:  opts.Symbols,
		config:   cfg,
		trades:   make(chan domain.Trade, 10000),
		done:     make(chan struct{}),
		log:      opts.Logger.With().Str("component", "feed").Logger(),
		metrics:  opts.Metrics,
	}

	if err := f.connect(ctx); err != nil {
		return nil, err
	}

	f.wg.Add(1)
	go f.readLoop()

	f.wg.Add(1)
	go f.pingLoop()

	return f, nil
}

// Next returns the next live trade.
func (f *Feed) Next(ctx context.Context) (domain.Trade, error) {
	select {
	case t, ok := <-f.trades:
		if !ok {
			if err := f.fatal(); err != nil {
				return domain.Trade{}, err
			}
			return domain.Trade{}, ErrEnd
		}
		return t, nil
	case <-ctx.Done():
		return domain.Trade{}, ctx.Err()
	}
}

// Close closes the feed connection.
func (f *Feed) Close() error {
	if f.closed.Swap(true) {
		return nil // Already closed
	}

	close(f.done)

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		f.conn.Close()
	}
	f.connMu.Unlock()

	f.wg.Wait()
	f.tradesOnce.Do(func() { close(f.trades) })
	return nil
}

var _ TradeSource = (*Feed)(nil)

// connect dials the gateway, authenticates and subscribes.
func (f *Feed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	if err := conn.WriteJSON(feedRequest{Action: "auth", Key: f.apiKey}); err != nil {
		conn.Close()
		return fmt.Errorf("write auth: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
	var reply feedMessage
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return fmt.Errorf("read auth reply: %w", err)
	}
	if reply.Type != "auth_ok" {
		conn.Close()
		return fmt.Errorf("%w: auth rejected: %s", ErrFatal, reply.Message)
	}

	conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	if err := conn.WriteJSON(feedRequest{Action: "subscribe", Symbols: f.symbols, Schema: "trades"}); err != nil {
		conn.Close()
		return fmt.Errorf("write subscribe: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	return nil
}

// readLoop reads trades and reconnects on connection errors.
func (f *Feed) readLoop() {
	defer f.wg.Done()

	for !f.closed.Load() {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		if conn == nil {
			if !f.reconnect() {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.closed.Load() {
				return
			}
			f.log.Warn().Err(err).Msg("feed read failed, reconnecting")
			f.dropConn()
			continue
		}

		f.handleMessage(message)
	}
}

// reconnect retries the connection with exponential backoff until it
// succeeds, the client closes or the failure is fatal. Returns false when
// the read loop should exit.
func (f *Feed) reconnect() bool {
	delay := f.config.ReconnectDelay

	for {
		jittered := delay + time.Duration(rand.Int63n(int64(2*f.config.ReconnectJitter))) - f.config.ReconnectJitter
		if jittered < 0 {
			jittered = 0
		}

		select {
		case <-f.done:
			return false
		case <-time.After(jittered):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := f.connect(ctx)
		cancel()
		if err == nil {
			f.metrics.IncSourceReconnects()
			f.log.Info().Msg("feed reconnected")
			return true
		}
		if isFatal(err) {
			f.setFatal(err)
			f.tradesOnce.Do(func() { close(f.trades) })
			f.log.Error().Err(err).Msg("feed failed permanently")
			return false
		}
		f.log.Warn().Err(err).Dur("next_delay", delay).Msg("feed reconnect failed")

		delay *= 2
		if delay > f.config.MaxReconnectDelay {
			delay = f.config.MaxReconnectDelay
		}
	}
}

// pingLoop keeps the connection alive.
func (f *Feed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			conn := f.conn
			if conn != nil {
				conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
				conn.WriteMessage(websocket.PingMessage, nil)
			}
			f.connMu.Unlock()
		}
	}
}

func (f *Feed) handleMessage(message []byte) {
	var msg feedMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		f.log.Warn().Err(err).Msg("malformed feed message")
		return
	}

	switch msg.Type {
	case "trade":
		var side domain.Side
		switch msg.Side {
		case "B":
			side = domain.SideBuy
		case "A":
			side = domain.SideSell
		default:
			return
		}
		t := domain.Trade{
			Symbol:    msg.Symbol,
			Price:     msg.Price,
			Size:      msg.Size,
			Side:      side,
			Timestamp: msg.TsEvent,
		}
		select {
		case f.trades <- t:
		default:
			// Pipeline is stalled; dropping beats blocking the socket.
			f.log.Warn().Msg("trade buffer full, dropping")
		}
	case "error":
		f.log.Warn().Str("message", msg.Message).Msg("feed error")
	}
}

func (f *Feed) dropConn() {
	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()
}

func (f *Feed) setFatal(err error) {
	f.fatalMu.Lock()
	f.fatalErr = err
	f.fatalMu.Unlock()
}

func (f *Feed) fatal() error {
	f.fatalMu.Lock()
	defer f.fatalMu.Unlock()
	return f.fatalErr
}

func isFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
