// Package transport implements the server push channel (spec.md §6):
// a discriminated event feed of team-message, metadata-update, and
// task-event notifications, carried over NATS subjects so the Session
// Runtime's push listener goroutine (spec.md §5) never polls.
//
// Grounded on ODSapper-CLIAIMONITOR's internal/nats package: Client
// wraps *nats.Conn with reconnect handling (internal/nats/client.go),
// EmbeddedServer wraps an in-process nats-server for tests/local/dev
// runs without an external broker (internal/nats/server.go), and
// Handler subscribes per-subject and delegates to typed callbacks
// (internal/nats/handler.go) — generalized here from per-agent
// heartbeat/status/tool-call subjects to squad's three discriminated
// push-event kinds.
package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Message is one raw NATS message, subject plus payload.
type Message struct {
	Subject string
	Data    []byte
}

// Client wraps a NATS connection with the reconnect/logging handling
// squad's push channel needs, regardless of which of the three event
// kinds (team-message, metadata-update, task-event) flows over it.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

// NewClient connects to url with indefinite reconnection, matching the
// teacher's always-reconnect policy for its agent event bus.
func NewClient(url string, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := []nats.Option{
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("transport: disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("transport: reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("transport: connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("transport: connect to %s: %w", url, err)
	}
	return &Client{conn: conn, log: log}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Publish sends a raw payload to subject.
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("transport: publish to %s: %w", subject, err)
	}
	return nil
}

// PublishJSON JSON-encodes v and publishes it to subject.
func (c *Client) PublishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal payload for %s: %w", subject, err)
	}
	return c.Publish(subject, data)
}

// Subscribe creates an asynchronous subscription on subject.
func (c *Client) Subscribe(subject string, handler func(Message)) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, func(m *nats.Msg) {
		handler(Message{Subject: m.Subject, Data: m.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("transport: subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// IsConnected reports whether the client currently holds a live connection.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// RawConn exposes the underlying *nats.Conn for callers (e.g. the
// embedded test server) that need it directly.
func (c *Client) RawConn() *nats.Conn { return c.conn }
