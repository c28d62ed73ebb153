package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/putto11262002/chatsync/client"
	"github.com/putto11262002/chatsync/core"
)

// Dialer dials the hub's websocket endpoint and hands the connection to the
// sync core as a client.Transport. An HTTP 401/403 during the handshake is
// a terminal *core.AuthError; everything else is transient.
type Dialer struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger
}

type DialerOption func(*Dialer)

func WithDialerLogger(l *slog.Logger) DialerOption {
	return func(d *Dialer) {
		d.logger = l
	}
}

func NewDialer(url string, opts ...DialerOption) *Dialer {
	d := &Dialer{
		url:    url,
		dialer: websocket.DefaultDialer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dialer) Dial(ctx context.Context, creds client.Credentials) (client.Transport, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.Token)

	conn, resp, err := d.dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &core.AuthError{Reason: resp.Status}
		}
		return nil, &core.TransportError{Err: err}
	}

	c := &clientConn{
		conn:   conn,
		recv:   make(chan *core.Event, 64),
		done:   make(chan struct{}),
		logger: d.logger,
	}
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// clientConn is the client side of one websocket connection. recv is closed
// when the connection dies, which is how the connection manager notices the
// drop.
type clientConn struct {
	conn   *websocket.Conn
	recv   chan *core.Event
	done   chan struct{}
	logger *slog.Logger

	mu        sync.Mutex
	closeOnce sync.Once
}

func (c *clientConn) Send(e *core.Event) error {
	select {
	case <-c.done:
		return &core.TransportError{Err: fmt.Errorf("connection closed")}
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return &core.TransportError{Err: err}
	}
	if err := core.EncodeEvent(w, e); err != nil {
		w.Close()
		return &core.TransportError{Err: err}
	}
	if err := w.Close(); err != nil {
		return &core.TransportError{Err: err}
	}
	return nil
}

func (c *clientConn) Receive() <-chan *core.Event {
	return c.recv
}

func (c *clientConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.mu.Unlock()
		c.conn.Close()
	})
	return nil
}

func (c *clientConn) readLoop() {
	defer func() {
		c.conn.Close()
		close(c.recv)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		format, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
				return
			}
			c.logger.Debug(fmt.Sprintf("read: %v", err))
			return
		}
		if format != websocket.TextMessage {
			continue
		}

		var event core.Event
		if err := core.DecodeEvent(r, &event); err != nil {
			c.logger.Error(err.Error())
			continue
		}

		select {
		case c.recv <- &event:
		case <-c.done:
			return
		}
	}
}

func (c *clientConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
