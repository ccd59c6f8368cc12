// ABOUTME: Configuration loading for the host-side gateway client
// ABOUTME: Loads TOML config with environment variable expansion, mirroring the bridge config style

package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// HostConfig is the configuration of a host process connecting to the bot.
type HostConfig struct {
	Gateway  HostGatewayConfig `toml:"gateway"`
	Memory   HostMemoryConfig  `toml:"memory"`
	Database DatabaseConfig    `toml:"database"`
	Logging  HostLoggingConfig `toml:"logging"`
	Runtime  HostRuntimeConfig `toml:"runtime"`
}

// HostGatewayConfig describes how to reach and talk to the bot.
type HostGatewayConfig struct {
	URL               string  `toml:"url"`
	Token             string  `toml:"token"`
	CAFile            string  `toml:"ca_file"`
	CertFile          string  `toml:"cert_file"`
	KeyFile           string  `toml:"key_file"`
	MaxPayloadSize    int64   `toml:"max_payload_size"`
	ReconnectJitter   float64 `toml:"reconnect_jitter"`
	IncomingQueueSize int     `toml:"incoming_queue_size"`
	OutgoingQueueSize int     `toml:"outgoing_queue_size"`

	// Raw string values for TOML decoding
	HeartbeatRaw     string `toml:"heartbeat_interval"`
	HandshakeRaw     string `toml:"handshake_timeout"`
	RecvTimeoutRaw   string `toml:"recv_timeout"`
	ReconnectInitRaw string `toml:"reconnect_initial_delay"`
	ReconnectMaxRaw  string `toml:"reconnect_max_delay"`

	HeartbeatInterval     time.Duration `toml:"-"`
	HandshakeTimeout      time.Duration `toml:"-"`
	RecvTimeout           time.Duration `toml:"-"`
	ReconnectInitialDelay time.Duration `toml:"-"`
	ReconnectMaxDelay     time.Duration `toml:"-"`
}

// HostMemoryConfig tunes outbound memory transfers.
type HostMemoryConfig struct {
	ChunkSize int `toml:"chunk_size"`
}

// HostRuntimeConfig tunes the runtime worker.
type HostRuntimeConfig struct {
	CallTimeoutRaw string        `toml:"call_timeout"`
	CallTimeout    time.Duration `toml:"-"`
}

// HostLoggingConfig holds logging configuration for the host.
type HostLoggingConfig struct {
	Level string `toml:"level"`
}

// LoadHost reads the host config from path, expanding environment variables.
func LoadHost(path string) (*HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseHost(string(data))
}

// ParseHost builds a HostConfig from TOML text.
func ParseHost(text string) (*HostConfig, error) {
	expanded := expandEnvVars(text)

	var cfg HostConfig
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *HostConfig) parseDurations() error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"gateway.heartbeat_interval", c.Gateway.HeartbeatRaw, &c.Gateway.HeartbeatInterval},
		{"gateway.handshake_timeout", c.Gateway.HandshakeRaw, &c.Gateway.HandshakeTimeout},
		{"gateway.recv_timeout", c.Gateway.RecvTimeoutRaw, &c.Gateway.RecvTimeout},
		{"gateway.reconnect_initial_delay", c.Gateway.ReconnectInitRaw, &c.Gateway.ReconnectInitialDelay},
		{"gateway.reconnect_max_delay", c.Gateway.ReconnectMaxRaw, &c.Gateway.ReconnectMaxDelay},
		{"runtime.call_timeout", c.Runtime.CallTimeoutRaw, &c.Runtime.CallTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

func (c *HostConfig) applyDefaults() {
	g := &c.Gateway
	if g.MaxPayloadSize == 0 {
		g.MaxPayloadSize = 1 << 20
	}
	if g.ReconnectJitter == 0 {
		g.ReconnectJitter = 0.2
	}
	if g.IncomingQueueSize == 0 {
		g.IncomingQueueSize = 256
	}
	if g.OutgoingQueueSize == 0 {
		g.OutgoingQueueSize = 256
	}
	if g.HeartbeatInterval == 0 {
		g.HeartbeatInterval = 30 * time.Second
	}
	if g.HandshakeTimeout == 0 {
		g.HandshakeTimeout = 10 * time.Second
	}
	if g.RecvTimeout == 0 {
		g.RecvTimeout = 3 * g.HeartbeatInterval
	}
	if g.ReconnectInitialDelay == 0 {
		g.ReconnectInitialDelay = time.Second
	}
	if g.ReconnectMaxDelay == 0 {
		g.ReconnectMaxDelay = 60 * time.Second
	}
	if c.Memory.ChunkSize == 0 {
		c.Memory.ChunkSize = 64 * 1024
	}
	if c.Database.Path == "" {
		c.Database.Path = "saiverse-host.db"
	}
	if c.Runtime.CallTimeout == 0 {
		c.Runtime.CallTimeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that required config fields are present and valid.
func (c *HostConfig) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("gateway.url must use ws or wss scheme")
	}
	if c.Gateway.ReconnectJitter < 0 || c.Gateway.ReconnectJitter > 1 {
		return fmt.Errorf("gateway.reconnect_jitter must be between 0 and 1")
	}
	if c.Gateway.ReconnectMaxDelay < c.Gateway.ReconnectInitialDelay {
		return fmt.Errorf("gateway.reconnect_max_delay must not be below reconnect_initial_delay")
	}
	if (c.Gateway.CertFile == "") != (c.Gateway.KeyFile == "") {
		return fmt.Errorf("gateway.cert_file and gateway.key_file must be set together")
	}
	return nil
}
