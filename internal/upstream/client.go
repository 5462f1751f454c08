// Package upstream implements C1: one secure (or plain) WebSocket
// connection to an exchange feed, with manual URL parsing, a constant
// 5-second reconnect policy, and a callback sink invoked once per received
// text or binary frame.
package upstream

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/HanshengGUO/okx-websocket-repeater/internal/logging"
	"github.com/HanshengGUO/okx-websocket-repeater/internal/metrics"
)

const (
	handshakeTimeout = 30 * time.Second
	reconnectDelay   = 5 * time.Second
	userAgent        = "okx-websocket-repeater/1.0 (gorilla/websocket)"
)

// Endpoint is the upstream descriptor from spec.md §3: the URL to dial,
// the subscription message to send after handshake, and a debug-only id.
type Endpoint struct {
	URL    string
	SubMsg string
	ID     int
}

// OnMessage is invoked once per received frame, serialized — Client never
// calls it from two goroutines at once. It must not block.
type OnMessage func(frame []byte)

// Client owns exactly one upstream connection and its reconnect loop.
type Client struct {
	endpoint  Endpoint
	onMsg     OnMessage
	logger    zerolog.Logger
	metrics   *metrics.Registry
	dialer    *websocket.Dialer
	connected atomic.Bool
}

// Connected reports whether the upstream connection is currently
// established, for health reporting.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// New constructs a Client for endpoint, delivering every received text or
// binary frame to onMsg.
func New(endpoint Endpoint, onMsg OnMessage, logger zerolog.Logger, reg *metrics.Registry) *Client {
	return &Client{
		endpoint: endpoint,
		onMsg:    onMsg,
		logger:   logger.With().Int("upstream_id", endpoint.ID).Logger(),
		metrics:  reg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			TLSClientConfig:  &tls.Config{}, // default CA verification, SNI set per-dial below
		},
	}
}

// Run drives the Idle → Resolving → Connecting → [TLS] → WS handshake →
// Writing Subscription → Reading state machine of spec.md §4.1 until ctx
// is canceled. Any failure other than cooperative cancellation schedules a
// reconnect after a constant 5-second delay; cancellation never reconnects.
func (c *Client) Run(ctx context.Context) {
	defer logging.RecoverPanic(c.logger, "upstream.Run")

	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				// Shutdown in flight: the error is the shutdown sentinel
				// propagating through the dial/read path. Terminal, no reconnect.
				return
			}
			c.logger.Error().Err(err).Msg("upstream: connection failed, reconnecting in 5s")
			c.metrics.ReconnectAttempt(c.endpoint.ID)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// connectAndRead performs one full connect-subscribe-read cycle. It
// returns when the connection ends, for any reason.
func (c *Client) connectAndRead(ctx context.Context) error {
	u, err := parseURL(c.endpoint.URL)
	if err != nil {
		// A bad scheme is not transient: spec.md §4.1 says fail immediately
		// and do not attempt reconnect. Log once, then park until ctx is
		// canceled and return ctx's error, so Run exits without ever
		// dialing.
		c.logger.Error().Err(err).Msg("upstream: invalid URL, will not reconnect")
		<-ctx.Done()
		return ctx.Err()
	}

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("User-Agent", userAgent)

	dialer := *c.dialer
	dialer.TLSClientConfig = &tls.Config{ServerName: u.Host}

	conn, _, err := dialer.DialContext(dialCtx, u.dialURL(), header)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer c.connected.Store(false)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(c.endpoint.SubMsg)); err != nil {
		return err
	}

	c.connected.Store(true)
	c.logger.Debug().Str("url", u.dialURL()).Msg("upstream: connected, subscription sent")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			c.onMsg(data)
		}
	}
}
