// ABOUTME: Configuration loading and parsing for the bot-side gateway server
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Client authentication modes for TLS.
const (
	ClientAuthNone     = "none"
	ClientAuthOptional = "optional"
	ClientAuthRequired = "required"
)

// Config represents the complete bot-side configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	TLS       TLSConfig       `yaml:"tls"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Session   SessionConfig   `yaml:"session"`
	Messaging MessagingConfig `yaml:"messaging"`
	Platform  PlatformConfig  `yaml:"platform"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the WebSocket listener configuration
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	WSPath         string `yaml:"ws_path"`
	MaxPayloadSize int64  `yaml:"max_payload_size"`

	HeartbeatInterval time.Duration `yaml:"-"`
	HandshakeTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	HandshakeTimeoutRaw  string `yaml:"handshake_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TLSConfig holds TLS termination settings for the WebSocket server
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	CAFile     string `yaml:"ca_file"`
	ClientAuth string `yaml:"client_auth"` // none, optional, required
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// OAuthConfig holds the chat platform OAuth application settings
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURI  string   `yaml:"redirect_uri"`
	Scopes       []string `yaml:"scopes"`
	AuthorizeURL string   `yaml:"authorize_url"`
	TokenURL     string   `yaml:"token_url"`
	IdentityURL  string   `yaml:"identity_url"`

	StateTTL    time.Duration `yaml:"-"`
	StateTTLRaw string        `yaml:"state_ttl"`
}

// SessionConfig holds gateway session token settings
type SessionConfig struct {
	TokenLength int    `yaml:"token_length"`
	TokenPepper string `yaml:"token_pepper"`

	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// MessagingConfig bounds message content and the replay backlog
type MessagingConfig struct {
	MaxMessageLength   int `yaml:"max_message_length"`
	PendingReplayLimit int `yaml:"pending_replay_limit"`
	ReplayBatchSize    int `yaml:"replay_batch_size"`
}

// PlatformConfig holds chat platform API access for the relay
type PlatformConfig struct {
	APIBase       string  `yaml:"api_base"`
	BotToken      string  `yaml:"bot_token"`
	IngressSecret string  `yaml:"ingress_secret"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8765
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = "/ws"
	}
	if c.Server.MaxPayloadSize == 0 {
		c.Server.MaxPayloadSize = 1 << 20
	}
	if c.Server.HeartbeatInterval == 0 {
		c.Server.HeartbeatInterval = 30 * time.Second
	}
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = 10 * time.Second
	}
	if c.TLS.ClientAuth == "" {
		c.TLS.ClientAuth = ClientAuthNone
	}
	if c.Database.Path == "" {
		c.Database.Path = "saiverse-bot.db"
	}
	if len(c.OAuth.Scopes) == 0 {
		c.OAuth.Scopes = []string{"identify"}
	}
	if c.OAuth.AuthorizeURL == "" {
		c.OAuth.AuthorizeURL = "https://discord.com/oauth2/authorize"
	}
	if c.OAuth.TokenURL == "" {
		c.OAuth.TokenURL = "https://discord.com/api/oauth2/token"
	}
	if c.OAuth.IdentityURL == "" {
		c.OAuth.IdentityURL = "https://discord.com/api/users/@me"
	}
	if c.OAuth.StateTTL == 0 {
		c.OAuth.StateTTL = 10 * time.Minute
	}
	if c.Session.TokenLength == 0 {
		c.Session.TokenLength = 48
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 30 * 24 * time.Hour
	}
	if c.Messaging.MaxMessageLength == 0 {
		c.Messaging.MaxMessageLength = 2000
	}
	if c.Messaging.PendingReplayLimit == 0 {
		c.Messaging.PendingReplayLimit = 500
	}
	if c.Messaging.ReplayBatchSize == 0 {
		c.Messaging.ReplayBatchSize = 50
	}
	if c.Platform.APIBase == "" {
		c.Platform.APIBase = "https://discord.com/api/v10"
	}
	if c.Platform.RatePerSecond == 0 {
		c.Platform.RatePerSecond = 5
	}
	if c.Platform.Burst == 0 {
		c.Platform.Burst = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
// Certificate files are checked for existence when the server starts, not here.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with /")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.TLS.ClientAuth {
	case ClientAuthNone, ClientAuthOptional, ClientAuthRequired:
	default:
		return fmt.Errorf("tls.client_auth must be one of none, optional, required (got %q)", c.TLS.ClientAuth)
	}

	if c.Session.TokenLength < 16 {
		return fmt.Errorf("session.token_length must be at least 16 bytes")
	}
	if len(c.Session.TokenPepper) > 64 {
		return fmt.Errorf("session.token_pepper must be at most 64 bytes")
	}
	if c.Messaging.PendingReplayLimit < 1 {
		return fmt.Errorf("messaging.pending_replay_limit must be positive")
	}
	if c.Messaging.ReplayBatchSize < 1 {
		return fmt.Errorf("messaging.replay_batch_size must be positive")
	}
	if c.Messaging.MaxMessageLength < 1 {
		return fmt.Errorf("messaging.max_message_length must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.heartbeat_interval", cfg.Server.HeartbeatIntervalRaw, &cfg.Server.HeartbeatInterval},
		{"server.handshake_timeout", cfg.Server.HandshakeTimeoutRaw, &cfg.Server.HandshakeTimeout},
		{"oauth.state_ttl", cfg.OAuth.StateTTLRaw, &cfg.OAuth.StateTTL},
		{"session.ttl", cfg.Session.TTLRaw, &cfg.Session.TTL},
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
