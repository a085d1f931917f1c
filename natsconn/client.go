// Package natsconn provides a NATS connection client built on the base
// adapter lifecycle. The framework owns reconnection, so the underlying
// nats.go client runs with its own retry machinery disabled.
package natsconn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/virgilvox/clasp-flow-sub003/adapter"
	"github.com/virgilvox/clasp-flow-sub003/config"
	"github.com/virgilvox/clasp-flow-sub003/credential"
	"github.com/virgilvox/clasp-flow-sub003/errors"
)

// SendOptions carries NATS-specific send parameters through the adapter
type SendOptions struct {
	// Subject overrides the configured default publish subject
	Subject string
}

// Client is a NATS protocol client. It embeds the base adapter, so callers
// use the standard Connect/Disconnect/Send surface.
type Client struct {
	*adapter.Base

	url         string
	subject     string
	subscribe   string
	credentials credential.Store
	logger      *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
	sub  *nats.Subscription
}

// New creates a NATS client for the configured connection. Settings keys:
// "url" (required), "subject" (default publish subject), "subscribe"
// (optional inbound subscription subject). Credentials, when present in
// the store under the "username"/"password" fields, are applied at dial.
func New(cfg config.ConnectionConfig, creds credential.Store, opts ...adapter.Option) (*Client, error) {
	url, _ := cfg.Settings["url"].(string)
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			cfg.ID, "New", "nats url check")
	}

	subject, _ := cfg.Settings["subject"].(string)
	subscribe, _ := cfg.Settings["subscribe"].(string)

	c := &Client{
		url:         url,
		subject:     subject,
		subscribe:   subscribe,
		credentials: creds,
		logger:      slog.Default(),
	}
	c.Base = adapter.New(cfg, c, opts...)
	return c, nil
}

// DoConnect dials the server and establishes the inbound subscription
func (c *Client) DoConnect(_ context.Context) error {
	natsOpts := []nats.Option{
		nats.Name("clasp-flow:" + c.ID()),
		nats.Timeout(10 * time.Second),
		// the adapter owns reconnection; keep the client single-shot
		nats.NoReconnect(),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.onClosed()
		}),
	}

	if c.credentials != nil {
		fields := credential.GetFields(c.credentials, c.ID(), []string{"username", "password", "token"})
		if token, ok := fields["token"]; ok {
			natsOpts = append(natsOpts, nats.Token(token))
		} else if user, ok := fields["username"]; ok {
			natsOpts = append(natsOpts, nats.UserInfo(user, fields["password"]))
		}
	}

	conn, err := nats.Connect(c.url, natsOpts...)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.url, err)
	}

	var sub *nats.Subscription
	if c.subscribe != "" {
		sub, err = conn.Subscribe(c.subscribe, func(msg *nats.Msg) {
			c.EmitMessage(msg.Data)
		})
		if err != nil {
			conn.Close()
			return fmt.Errorf("subscribe %s: %w", c.subscribe, err)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.sub = sub
	c.mu.Unlock()
	return nil
}

// onClosed reports an unsolicited connection loss to the adapter
func (c *Client) onClosed() {
	c.mu.Lock()
	expected := c.conn == nil // cleared by DoDisconnect
	c.conn = nil
	c.sub = nil
	c.mu.Unlock()

	if !expected {
		c.logger.Warn("nats connection closed unexpectedly",
			"connection_id", c.ID(),
			"url", c.url)
		c.HandleUnexpectedDisconnect("nats connection closed")
		c.ScheduleReconnect()
	}
}

// DoDisconnect drains the subscription and closes the connection
func (c *Client) DoDisconnect(_ context.Context) error {
	c.mu.Lock()
	conn := c.conn
	sub := c.sub
	c.conn = nil
	c.sub = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	conn.Close()
	return nil
}

// DoSend publishes one payload. The subject comes from SendOptions when
// provided, otherwise from the connection's configured default.
func (c *Client) DoSend(_ context.Context, data any, opts any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errors.ErrNotConnected
	}

	subject := c.subject
	if so, ok := opts.(SendOptions); ok && so.Subject != "" {
		subject = so.Subject
	}
	if subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, c.ID(), "DoSend", "subject check")
	}

	payload, err := encodePayload(data)
	if err != nil {
		return err
	}
	return conn.Publish(subject, payload)
}

// encodePayload converts a payload to bytes, JSON-encoding structured data
func encodePayload(data any) ([]byte, error) {
	switch d := data.(type) {
	case []byte:
		return d, nil
	case string:
		return []byte(d), nil
	default:
		encoded, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return encoded, nil
	}
}
