// Package signal is the server-side websocket adapter: it owns connection
// upgrade, the read/write pumps and the dispatch of decoded intents into the
// coordinator. It holds no room state.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tunewave/listenroom/internal/app"
	"github.com/tunewave/listenroom/internal/core"
	"github.com/tunewave/listenroom/internal/protocol"
)

var ErrBackpressure = errors.New("backpressure")

// Config tunes the per-connection transport behavior.
type Config struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	ChatBurst    int
	ChatWindow   time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 32768
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 54 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ChatBurst <= 0 {
		c.ChatBurst = 10
	}
	if c.ChatWindow <= 0 {
		c.ChatWindow = 10 * time.Second
	}
	return c
}

type RoomWSController struct {
	Coord   *app.Coordinator
	cfg     Config
	limiter *ChatRateLimiter
}

func NewRoomWSController(coord *app.Coordinator, cfg Config) *RoomWSController {
	cfg = cfg.withDefaults()
	return &RoomWSController{
		Coord:   coord,
		cfg:     cfg,
		limiter: NewChatRateLimiter(cfg.ChatBurst, cfg.ChatWindow),
	}
}

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleRoom upgrades the request and runs the connection until it dies.
// Each websocket gets its own SessionID; a reconnecting user shows up under
// a fresh one and the coordinator reconciles membership by userId.
func (ctl *RoomWSController) HandleRoom(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).
		Str("client_token", c.GetString("client_token")).Msg("new room connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	ctx, cancel := context.WithCancel(ctx)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn, cancel)
}

func (ctl *RoomWSController) dispatch(sid core.SessionID, conn *wsConn, cancel context.CancelFunc, data []byte) {
	msg, err := protocol.Decode(data)
	switch {
	case errors.Is(err, protocol.ErrUnknownKind):
		// Forward compatibility: never fatal, never acted on.
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("ignoring unknown kind")
		return
	case err != nil:
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("dropping malformed message")
		return
	}

	switch m := msg.(type) {
	case protocol.Join:
		if err := ctl.Coord.Join(sid, conn, cancel, m); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join rejected")
		}
	case protocol.Chat:
		// The limiter keys on the session-bound identity, not the payload
		// claim, so varying userId per frame buys nothing.
		if _, sess, ok := ctl.Coord.Registry.Lookup(sid); ok {
			uid := sess.Participant().UserID
			if !ctl.limiter.Allow(uid) {
				log.Warn().Str("module", "signal").Str("sid", string(sid)).
					Str("user", string(uid)).Msg("chat rate limited")
				return
			}
		}
		if err := ctl.Coord.HandleIntent(sid, m); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("intent rejected")
		}
	default:
		if err := ctl.Coord.HandleIntent(sid, m); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("intent rejected")
		}
	}
}
