// Package store provides persistent storage for both gateway peers using SQLite.
//
// # Tables
//
// The bot process owns:
//
//   - sessions: hashed session tokens, one row per platform identity
//   - oauth_states: single-use authorization state values
//   - channel_bindings: channel to city/building/host mapping
//
// The host process owns:
//
//   - channel_bindings: the host's copy of the bindings it serves
//   - persona_memories: successfully imported memory transfers
//   - persona_history: conversation lines recorded while a persona visits
//
// SQLiteStore implements every operation in a single struct. Each peer opens
// its own database file.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC 3339 text in UTC. Operations that depend on the
// current time take it as a parameter so callers and tests control the clock.
//
// # Error Handling
//
//   - ErrNotFound: requested session does not exist or is not active
//   - ErrBindingNotFound: channel is not bound
//   - ErrStateNotFound: OAuth state is unknown, expired or consumed
//
// Use NewSQLiteStore(":memory:") or a t.TempDir() path for tests.
package store
