package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/quicktime/orderflow-bubbles/internal/hub"
)

const (
	wsWriteTimeout = 10 * time.Second

	// Command throttle: sustained rate and burst per connection.
	wsCommandRate  = 5
	wsCommandBurst = 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from a different origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient wraps one WebSocket connection. The broadcast pump and the
// command reader both write to the socket, so writes are serialized.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(msg hub.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(msg)
}

// handleWS upgrades the connection, subscribes it to the hub and serves
// client commands until the connection drops.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn}
	sub := s.hub.Subscribe()

	s.log.Info().Str("remote", r.RemoteAddr).Msg("websocket client connected")

	if err := client.write(hub.NewConnected(s.symbols, s.mode)); err != nil {
		s.hub.Unsubscribe(sub)
		conn.Close()
		return
	}

	// Pump broadcast messages until the subscriber channel closes.
	go func() {
		for msg := range sub.C() {
			if err := client.write(msg); err != nil {
				conn.Close()
				return
			}
		}
		conn.Close()
	}()

	limiter := rate.NewLimiter(rate.Limit(wsCommandRate), wsCommandBurst)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if !limiter.Allow() {
			client.write(hub.NewError("too many commands"))
			continue
		}
		s.handleCommand(client, data)
	}

	s.hub.Unsubscribe(sub)
	conn.Close()
	s.log.Info().Str("remote", r.RemoteAddr).Uint64("dropped", sub.Dropped()).Msg("websocket client disconnected")
}

// handleCommand applies one client command. Malformed or inapplicable
// commands produce an error message; the connection stays open.
func (s *Server) handleCommand(client *wsClient, data []byte) {
	var cmd hub.ClientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		client.write(hub.NewError("malformed command"))
		return
	}

	switch cmd.Action {
	case hub.ActionReplayPause:
		if s.replay == nil {
			client.write(hub.NewError("not in replay mode"))
			return
		}
		s.replay.Pause()
		s.hub.Broadcast(hub.NewReplayStatus(s.replay.Status()))

	case hub.ActionReplayResume:
		if s.replay == nil {
			client.write(hub.NewError("not in replay mode"))
			return
		}
		s.replay.Resume()
		s.hub.Broadcast(hub.NewReplayStatus(s.replay.Status()))

	case hub.ActionSetReplaySpeed:
		if s.replay == nil {
			client.write(hub.NewError("not in replay mode"))
			return
		}
		if cmd.Speed == nil || *cmd.Speed <= 0 {
			client.write(hub.NewError("speed must be positive"))
			return
		}
		s.replay.SetSpeed(*cmd.Speed)
		s.hub.Broadcast(hub.NewReplayStatus(s.replay.Status()))

	case hub.ActionSetMinSize:
		if s.minSize == nil || cmd.MinSize == nil {
			client.write(hub.NewError("min_size is required"))
			return
		}
		s.minSize.Set(*cmd.MinSize)

	default:
		client.write(hub.NewError("unknown action"))
	}
}
