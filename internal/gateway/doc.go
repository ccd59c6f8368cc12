// Package gateway is the bot-side server hosts connect to.
//
// # Overview
//
// The Gateway struct owns every server component: the SQLite store, the
// OAuth service issuing session tokens, the connection manager, the
// channel router and the host command processor. A single HTTP server
// exposes them:
//
//   - GET {ws_path}: WebSocket endpoint for hosts
//   - GET /health: liveness and connected host count
//   - GET /oauth/start: redirect to the platform consent screen
//   - GET /oauth/callback: exchange the code and issue a session token
//   - POST /platform/events: JWT-protected ingress for platform events
//
// # Handshake
//
// The first frame on a new socket must be a flat hello:
//
//	{"type": "hello", "token": "..."}
//
// A successful handshake is answered with hello_ack carrying the session
// id. Failures close the socket with a 44xx code:
//
//	4400  malformed or unexpected first frame
//	4401  unknown, expired or revoked token
//	4408  no hello before handshake_timeout
//	4409  a newer connection for the same user took over
//
// # Delivery
//
// Platform events are routed to the host bound to their channel and stamped
// with an event_id and a per-channel channel_seq. They stay queued in the
// connection manager until the host acks them, so a reconnecting host gets
// the unacked backlog replayed in order. When the queue overflows the host
// receives resync_required and is expected to send state_sync_request.
//
// # Key Files
//
//   - gateway.go: construction, routes, Run/Shutdown
//   - websocket.go: handshake, read loop, host frame dispatch
//   - router.go: channel lookup and sequencing of platform events
//   - commands.go: post_message, permission_denied, memory sync relay
//   - ingress.go: HTTP entry point for platform events
//   - tls.go, tailscale.go: listener setup
package gateway
