// Package ws is the endpoint side of the signaling transport: one
// websocket connection to the relay, serializing outbound envelopes in
// generation order and feeding inbound ones to the router.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/app"
	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

type Client struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn: conn,
		send: make(chan []byte, 32),
	}, nil
}

// Send implements core.Transport. Envelopes leave in the order they are
// queued; a full queue is backpressure, not silent reordering.
func (c *Client) Send(env domain.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrBackpressure
	}
	select {
	case c.send <- b:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.conn.Close()
}

// Run pumps the connection until it drops or ctx ends. A transport loss
// under an active call resolves into a Failed session.
func (c *Client) Run(ctx context.Context, reg *app.Registry) {
	router := app.NewRouter(reg)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-c.send:
				if !ok {
					return
				}
				if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
					log.Error().Err(err).Str("module", "ws").Msg("set write deadline")
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					log.Error().Err(err).Str("module", "ws").Msg("write error")
					return
				}
			}
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Error().Err(err).Str("module", "ws").Msg("signaling connection lost")
			reg.FailTransport(err)
			c.Close()
			return
		}
		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Str("module", "ws").Msg("bad envelope, dropped")
			continue
		}
		router.Dispatch(ctx, env)
	}
}
