// Package client is the host side of the gateway protocol.
//
// Dial opens one connection and performs the hello handshake. Service wraps
// Dial in a reconnect loop: while connected it runs a receiver that feeds
// Inbound() and a sender that drains Enqueue'd commands and emits heartbeats.
// When either side fails the connection is dropped and retried after
// Backoff, which doubles from the initial delay up to the configured maximum
// with symmetric jitter.
//
// A command whose write failed is carried over and sent first on the next
// connection; anything the bot never acknowledged is replayed by the bot.
package client
