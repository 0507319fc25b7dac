// Package client implements the room session SDK: a websocket transport,
// a reconnection controller with capped exponential backoff, and the cached
// room view kept in sync by reducing coordinator events.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ErrNotConnected: a send was attempted while the transport is not open.
// The intent is dropped, never queued; a stale control intent replayed
// after a long disconnect would desynchronize the room.
var ErrNotConnected = errors.New("not connected")

// Transport opens persistent connections. Implemented over websocket in
// production and by fakes in tests.
type Transport interface {
	Open(ctx context.Context, url string) (Conn, error)
}

// Conn is one live connection. Inbound delivers ordered messages until the
// connection dies, then is closed; Closed fires exactly once as the
// terminal event. Send never silently drops: it reports failure so the
// caller can decide to drop or surface it.
type Conn interface {
	Send(data []byte) error
	Inbound() <-chan []byte
	Closed() <-chan struct{}
	Err() error
	Close() error
}

type wsTransport struct {
	dialer *websocket.Dialer
}

func NewWebSocketTransport() Transport {
	return &wsTransport{dialer: websocket.DefaultDialer}
}

func (t *wsTransport) Open(ctx context.Context, url string) (Conn, error) {
	ws, _, err := t.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &wsConn{
		ws:      ws,
		inbound: make(chan []byte, 32),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	ws      *websocket.Conn
	inbound chan []byte
	closed  chan struct{}

	writeMu sync.Mutex

	once sync.Once
	mu   sync.Mutex
	err  error
}

// readLoop is the sole writer of inbound and closes it on exit, so
// consumers can range over the channel until the terminal event.
func (c *wsConn) readLoop() {
	defer close(c.inbound)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.terminate(err)
			return
		}
		select {
		case c.inbound <- data:
		case <-c.closed:
			return
		}
	}
}

func (c *wsConn) terminate(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.closed)
		_ = c.ws.Close()
		log.Debug().Err(err).Str("module", "client.transport").Msg("connection terminated")
	})
}

func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrNotConnected
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

func (c *wsConn) Inbound() <-chan []byte  { return c.inbound }
func (c *wsConn) Closed() <-chan struct{} { return c.closed }

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *wsConn) Close() error {
	c.terminate(nil)
	return nil
}
