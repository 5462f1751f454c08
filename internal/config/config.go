// Package config loads the repeater's configuration document: the
// repeater_server bind address, the upstream okx_connections URLs, the
// subscription_message sent after each upstream handshake, the worker
// thread count, and the debug flag.
//
// The document is plain JSON, read once from the path Load is given (the
// commands default it to the relative DefaultPath; their -config flag can
// point elsewhere) and optionally overridden by environment variables for
// container deployments.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultPath is where the CLI looks for the configuration document.
const DefaultPath = "config/repeater_config.json"

// RepeaterServer is the bind address of the downstream broadcast server.
type RepeaterServer struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

// Config mirrors the document's recognized keys 1:1.
type Config struct {
	RepeaterServer      RepeaterServer  `json:"repeater_server"`
	OkxConnections      []string        `json:"okx_connections"`
	SubscriptionMessage json.RawMessage `json:"subscription_message"`
	Threads             int             `json:"threads"`
	Debug               bool            `json:"debug"`

	// SessionQueueDepth bounds each downstream session's send queue.
	// Not part of spec.md's recognized key table (it is an implementer
	// choice per spec.md §9); defaults when absent/zero in the document.
	SessionQueueDepth int `json:"session_queue_depth"`

	// ControlAddr binds the operator-only /healthz and /metrics surface,
	// kept separate from RepeaterServer so subscriber traffic and ops
	// traffic never share a listener.
	ControlAddr string `json:"control_addr"`
}

// overrides is the optional env-var layer, applied after the JSON document
// is parsed. Empty/unset fields leave the document's values untouched.
type overrides struct {
	Debug             *bool   `env:"REPEATER_DEBUG"`
	Threads           *int    `env:"REPEATER_THREADS"`
	Addr              *string `env:"REPEATER_ADDR"`
	SessionQueueDepth *int    `env:"REPEATER_SESSION_QUEUE_DEPTH"`
}

const (
	defaultThreads           = 1
	defaultSessionQueueDepth = 256
	defaultControlAddr       = ":9090"
)

// Load reads and validates the configuration document at path, then applies
// any environment-variable overrides. A missing .env file is not an error —
// container deployments are expected to set real environment variables
// instead.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Threads <= 0 {
		cfg.Threads = defaultThreads
	}
	if cfg.SessionQueueDepth <= 0 {
		cfg.SessionQueueDepth = defaultSessionQueueDepth
	}
	if cfg.ControlAddr == "" {
		cfg.ControlAddr = defaultControlAddr
	}

	_ = godotenv.Load() // optional; ignored if absent

	var ov overrides
	if err := env.Parse(&ov); err != nil {
		return nil, fmt.Errorf("config: parse env overrides: %w", err)
	}
	cfg.applyOverrides(ov)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyOverrides(ov overrides) {
	if ov.Debug != nil {
		c.Debug = *ov.Debug
	}
	if ov.Threads != nil {
		c.Threads = *ov.Threads
	}
	if ov.Addr != nil {
		host, port, err := net.SplitHostPort(*ov.Addr)
		if err == nil {
			c.RepeaterServer.Host = host
			if p, err := parsePort(port); err == nil {
				c.RepeaterServer.Port = p
			}
		}
	}
	if ov.SessionQueueDepth != nil {
		c.SessionQueueDepth = *ov.SessionQueueDepth
	}
}

func parsePort(s string) (uint16, error) {
	var p int
	if _, err := fmt.Sscanf(s, "%d", &p); err != nil {
		return 0, err
	}
	if p < 0 || p > 65535 {
		return 0, fmt.Errorf("port %d out of range", p)
	}
	return uint16(p), nil
}

// Validate checks the document for the combinations that must be
// startup-fatal per spec.md §7.
func (c *Config) Validate() error {
	if c.RepeaterServer.Host == "" {
		return fmt.Errorf("repeater_server.host is required")
	}
	if net.ParseIP(c.RepeaterServer.Host) == nil {
		return fmt.Errorf("repeater_server.host %q is not an IP literal", c.RepeaterServer.Host)
	}
	if c.RepeaterServer.Port == 0 {
		return fmt.Errorf("repeater_server.port is required")
	}
	if len(c.OkxConnections) == 0 {
		return fmt.Errorf("okx_connections must have at least one entry")
	}
	if c.Threads < 1 {
		return fmt.Errorf("threads must be >= 1")
	}
	return nil
}

// Addr returns the host:port the broadcast server should bind.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.RepeaterServer.Host, c.RepeaterServer.Port)
}

// SubMessage returns the subscription message re-serialized as compact
// JSON text, ready to send verbatim after an upstream handshake.
func (c *Config) SubMessage() (string, error) {
	if len(c.SubscriptionMessage) == 0 {
		return "", nil
	}
	var compact json.RawMessage
	if err := json.Unmarshal(c.SubscriptionMessage, &compact); err != nil {
		return "", fmt.Errorf("config: subscription_message: %w", err)
	}
	out, err := json.Marshal(compact)
	if err != nil {
		return "", fmt.Errorf("config: subscription_message: %w", err)
	}
	return string(out), nil
}
