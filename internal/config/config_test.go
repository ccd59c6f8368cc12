// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  host: "127.0.0.1"
  port: 9000
  ws_path: "/gateway"
  heartbeat_interval: "15s"
  handshake_timeout: "5s"
  max_payload_size: 2048

tls:
  enabled: false

database:
  path: "./bot.db"

oauth:
  client_id: "1234"
  client_secret: "secret"
  redirect_uri: "https://bot.example.net/oauth/callback"
  scopes: ["identify", "guilds"]
  state_ttl: "2m"

session:
  token_length: 32
  ttl: "24h"

messaging:
  max_message_length: 1500
  pending_replay_limit: 10
  replay_batch_size: 3

logging:
  level: "debug"
  format: "json"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, "/gateway", cfg.Server.WSPath)
	assert.Equal(t, 15*time.Second, cfg.Server.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.Server.HandshakeTimeout)
	assert.Equal(t, int64(2048), cfg.Server.MaxPayloadSize)
	assert.Equal(t, []string{"identify", "guilds"}, cfg.OAuth.Scopes)
	assert.Equal(t, 2*time.Minute, cfg.OAuth.StateTTL)
	assert.Equal(t, 32, cfg.Session.TokenLength)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 1500, cfg.Messaging.MaxMessageLength)
	assert.Equal(t, 10, cfg.Messaging.PendingReplayLimit)
	assert.Equal(t, 3, cfg.Messaging.ReplayBatchSize)
	assert.Equal(t, ClientAuthNone, cfg.TLS.ClientAuth)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8765", cfg.Server.Addr())
	assert.Equal(t, "/ws", cfg.Server.WSPath)
	assert.Equal(t, 30*time.Second, cfg.Server.HeartbeatInterval)
	assert.Equal(t, 500, cfg.Messaging.PendingReplayLimit)
	assert.Equal(t, 50, cfg.Messaging.ReplayBatchSize)
	assert.Equal(t, 2000, cfg.Messaging.MaxMessageLength)
	assert.Equal(t, 48, cfg.Session.TokenLength)
	assert.Equal(t, []string{"identify"}, cfg.OAuth.Scopes)
	assert.Equal(t, "https://discord.com/api/oauth2/token", cfg.OAuth.TokenURL)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DISCORD_SECRET", "from-env")

	cfg, err := Parse([]byte(`
oauth:
  client_secret: "${TEST_DISCORD_SECRET}"
`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.OAuth.ClientSecret)
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte(`
server:
  heartbeat_interval: "soon"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.heartbeat_interval")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"bad client auth", func(c *Config) { c.TLS.ClientAuth = "sometimes" }, "tls.client_auth"},
		{"relative ws path", func(c *Config) { c.Server.WSPath = "ws" }, "server.ws_path"},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"short tokens", func(c *Config) { c.Session.TokenLength = 8 }, "session.token_length"},
		{"zero replay limit", func(c *Config) { c.Messaging.PendingReplayLimit = -1 }, "pending_replay_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseHost(t *testing.T) {
	t.Setenv("TEST_GATEWAY_TOKEN", "tok-123456")

	cfg, err := ParseHost(`
[gateway]
url = "wss://bot.example.net/ws"
token = "${TEST_GATEWAY_TOKEN}"
reconnect_initial_delay = "500ms"
reconnect_max_delay = "10s"
reconnect_jitter = 0.5
incoming_queue_size = 8

[memory]
chunk_size = 4096

[logging]
level = "debug"
`)
	require.NoError(t, err)

	assert.Equal(t, "tok-123456", cfg.Gateway.Token)
	assert.Equal(t, 500*time.Millisecond, cfg.Gateway.ReconnectInitialDelay)
	assert.Equal(t, 10*time.Second, cfg.Gateway.ReconnectMaxDelay)
	assert.InDelta(t, 0.5, cfg.Gateway.ReconnectJitter, 1e-9)
	assert.Equal(t, 8, cfg.Gateway.IncomingQueueSize)
	assert.Equal(t, 256, cfg.Gateway.OutgoingQueueSize)
	assert.Equal(t, 90*time.Second, cfg.Gateway.RecvTimeout)
	assert.Equal(t, 4096, cfg.Memory.ChunkSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestParseHost_Validation(t *testing.T) {
	tests := []struct {
		name    string
		toml    string
		wantErr string
	}{
		{"missing url", `[gateway]`, "gateway.url is required"},
		{"http scheme", "[gateway]\nurl = \"http://bot\"", "ws or wss"},
		{"jitter too large", "[gateway]\nurl = \"ws://bot\"\nreconnect_jitter = 2.0", "reconnect_jitter"},
		{"max below initial", "[gateway]\nurl = \"ws://bot\"\nreconnect_initial_delay = \"5s\"\nreconnect_max_delay = \"1s\"", "reconnect_max_delay"},
		{"cert without key", "[gateway]\nurl = \"wss://bot\"\ncert_file = \"c.pem\"", "cert_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHost(tt.toml)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
