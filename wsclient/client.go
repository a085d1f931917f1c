// Package wsclient provides a WebSocket connection client built on the
// base adapter lifecycle. It demonstrates the hook contract every
// protocol client follows: the transport I/O lives here, while
// reconnection, buffering, and event streams belong to the adapter.
package wsclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/virgilvox/clasp-flow-sub003/adapter"
	"github.com/virgilvox/clasp-flow-sub003/config"
	"github.com/virgilvox/clasp-flow-sub003/errors"
)

// Client is a WebSocket protocol client. It embeds the base adapter, so
// callers use the standard Connect/Disconnect/Send surface.
type Client struct {
	*adapter.Base

	url    string
	dialer *websocket.Dialer
	logger *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	readDone chan struct{}
}

// New creates a WebSocket client for the configured connection. The
// endpoint URL comes from the connection's settings under the "url" key.
func New(cfg config.ConnectionConfig, opts ...adapter.Option) (*Client, error) {
	url, _ := cfg.Settings["url"].(string)
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			cfg.ID, "New", "websocket url check")
	}

	c := &Client{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: slog.Default(),
	}
	c.Base = adapter.New(cfg, c, opts...)
	return c, nil
}

// DoConnect dials the endpoint and starts the read pump
func (c *Client) DoConnect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.readDone = make(chan struct{})
	c.mu.Unlock()

	go c.readPump(conn)
	return nil
}

// DoDisconnect closes the socket and waits for the read pump to drain
func (c *Client) DoDisconnect(_ context.Context) error {
	c.mu.Lock()
	conn := c.conn
	done := c.readDone
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	// best-effort close frame before tearing down the socket
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := conn.Close()

	if done != nil {
		<-done
	}
	return err
}

// DoSend writes one payload as a text or binary frame
func (c *Client) DoSend(_ context.Context, data any, _ any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errors.ErrNotConnected
	}

	switch payload := data.(type) {
	case []byte:
		return conn.WriteMessage(websocket.BinaryMessage, payload)
	case string:
		return conn.WriteMessage(websocket.TextMessage, []byte(payload))
	default:
		return conn.WriteJSON(payload)
	}
}

// readPump feeds inbound frames to message subscribers until the socket
// closes. An abnormal closure drives the standard reconnection path.
func (c *Client) readPump(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.readDone != nil {
			close(c.readDone)
			c.readDone = nil
		}
		c.mu.Unlock()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			expected := c.conn == nil // cleared by DoDisconnect
			c.conn = nil
			c.mu.Unlock()

			if !expected {
				c.logger.Warn("websocket read failed",
					"connection_id", c.ID(),
					"url", c.url,
					"error", err)
				c.HandleUnexpectedDisconnect(err.Error())
				c.ScheduleReconnect()
			}
			return
		}
		c.EmitMessage(payload)
	}
}
