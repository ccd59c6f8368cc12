// Package config handles configuration loading for both gateway peers.
//
// # Bot side
//
// The bot-side server reads YAML (see Load). Values may reference
// environment variables with ${VAR_NAME}:
//
//	oauth:
//	  client_secret: "${DISCORD_CLIENT_SECRET}"
//
// Durations use time.ParseDuration syntax and are stored as raw strings
// before being parsed:
//
//	server:
//	  heartbeat_interval: "30s"
//	  handshake_timeout: "10s"
//
// # Host side
//
// The host process reads TOML (see LoadHost):
//
//	[gateway]
//	url = "wss://bot.example.net/ws"
//	token = "${SAIVERSE_GATEWAY_TOKEN}"
//	reconnect_initial_delay = "1s"
//	reconnect_max_delay = "60s"
//	reconnect_jitter = 0.2
//
// Both loaders apply defaults and validate; the resulting struct is built
// once at startup and passed to every component constructor.
package config
