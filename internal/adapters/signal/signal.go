// Package signal is the relay side of call signaling: it pairs the two
// participants of a call room and forwards their envelopes in arrival
// order. It never inspects SDP or candidate payloads and never touches
// media.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/config"
	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

type Controller struct {
	cfg     *config.Config
	reg     *Registry
	rooms   *Rooms
	limiter *InviteLimiter
}

func NewController(cfg *config.Config) *Controller {
	return &Controller{
		cfg:     cfg,
		reg:     NewRegistry(),
		rooms:   NewRooms(),
		limiter: NewInviteLimiter(cfg.InviteLimit, cfg.InviteInterval),
	}
}

// Conn is one client's signaling connection. Owned by the controller;
// the controller must Close() it.
type Conn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *Conn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the connection and binds it to the caller's
// identity. The user id defaults to the client token; an explicit
// ?user= overrides it for non-browser endpoints.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	uid := domain.UserID(c.Query("user"))
	if uid == "" {
		uid = domain.UserID(c.GetString("client_token"))
	}
	if err := domain.ValidateUsername(string(uid)); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("rejected WS connection")
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	log.Info().Str("module", "signal").Str("user", string(uid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.cfg.ReadLimit)

	conn := &Conn{
		conn: ws,
		send: make(chan []byte, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.reg.Bind(uid, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, uid, conn)
}
