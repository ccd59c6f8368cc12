// Package connection tracks authenticated host connections on the bot side.
//
// Each platform identity has at most one active Client. Authenticating a new
// socket for an identity closes the previous one with protocol.CloseReplaced.
//
// Events bound for a host go through SendToOwner. They are written immediately
// when the host is connected and always kept in a per-identity outbox until
// the host acknowledges them. ReplayPending resends the outbox after a
// reconnect. The outbox is bounded; when it overflows the oldest events are
// dropped and the next replay ends with a resync_required event carrying the
// number dropped.
//
// Writes to one host go out in queue order through that client's write
// queue. The manager's lock is released before any socket write, so a slow
// host only delays its own events.
package connection
