// ABOUTME: Tracks authenticated host connections and their pending event queues
// ABOUTME: One active connection per identity; events wait in an outbox until acked

package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maha0525/SAIVerse-sub002/internal/protocol"
	"github.com/maha0525/SAIVerse-sub002/internal/store"
)

// ErrAuthFailed indicates the presented token does not map to an active session.
var ErrAuthFailed = errors.New("authentication failed")

// SessionResolver maps a raw token to its active session.
type SessionResolver interface {
	ResolveToken(ctx context.Context, raw string) (*store.Session, error)
}

// Options tunes the manager's outbox behavior.
type Options struct {
	PendingReplayLimit int
	ReplayBatchSize    int
}

// Manager coordinates all connected hosts and the events queued for them.
// A single mutex guards both the client map and the outboxes. Frames are
// placed on the client's write queue under that mutex and written after it
// is released, so a slow host never stalls the others.
type Manager struct {
	resolver SessionResolver
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	clients  map[string]*Client
	outboxes map[string]*outbox
}

// NewManager creates a new Manager instance.
func NewManager(resolver SessionResolver, opts Options, logger *slog.Logger) *Manager {
	if opts.PendingReplayLimit <= 0 {
		opts.PendingReplayLimit = 500
	}
	if opts.ReplayBatchSize <= 0 {
		opts.ReplayBatchSize = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		resolver: resolver,
		opts:     opts,
		logger:   logger.With("component", "connections"),
		now:      time.Now,
		clients:  make(map[string]*Client),
		outboxes: make(map[string]*outbox),
	}
}

// Authenticate resolves token and registers the connection as the identity's
// active client. A previously registered client for the same identity is
// closed with CloseReplaced. Returns ErrAuthFailed for unknown, expired or
// revoked tokens.
func (m *Manager) Authenticate(ctx context.Context, token string, socket Socket) (*Client, error) {
	sess, err := m.resolver.ResolveToken(ctx, token)
	if err != nil {
		m.logger.Info("token rejected", "remote", socket.RemoteAddr(), "error", err)
		return nil, ErrAuthFailed
	}

	client := newClient(sess, socket, m.now())

	m.mu.Lock()
	prev, replaced := m.clients[sess.DiscordUserID]
	m.clients[sess.DiscordUserID] = client
	total := len(m.clients)
	m.mu.Unlock()

	if replaced {
		if err := prev.Close(protocol.CloseReplaced, "replaced by new connection"); err != nil {
			m.logger.Debug("closing replaced client", "discord_user_id", sess.DiscordUserID, "error", err)
		}
		m.logger.Info("replacing existing connection",
			"discord_user_id", sess.DiscordUserID,
			"previous_remote", prev.RemoteAddr(),
		)
	}

	m.logger.Info("=== HOST CONNECTED ===",
		"discord_user_id", sess.DiscordUserID,
		"session_id", sess.ID,
		"remote", socket.RemoteAddr(),
		"total_hosts", total,
	)
	return client, nil
}

// Unregister removes c if it is still the identity's active client.
// It reports whether c was removed. The outbox is kept for the next connection.
func (m *Manager) Unregister(c *Client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.clients[c.Identity()] != c {
		return false
	}
	delete(m.clients, c.Identity())
	m.logger.Info("=== HOST DISCONNECTED ===",
		"discord_user_id", c.Identity(),
		"session_id", c.SessionID(),
		"total_hosts", len(m.clients),
	)
	return true
}

// IsConnected reports whether the identity has an active client.
func (m *Manager) IsConnected(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.clients[identity]
	return ok
}

// Count returns the number of connected hosts.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// SendToOwner queues an event for identity and writes it immediately when the
// identity is connected and its backlog has been replayed. payload["event_id"]
// is assigned when absent. The event stays queued until acknowledged.
// Reports whether the frame was written.
func (m *Manager) SendToOwner(identity string, msgType protocol.MessageType, payload map[string]any) (bool, error) {
	if payload == nil {
		payload = make(map[string]any)
	}
	eventID, _ := payload["event_id"].(string)
	if eventID == "" {
		eventID = uuid.New().String()
		payload["event_id"] = eventID
	}

	frame, err := protocol.Command{Type: msgType, Payload: payload}.Marshal()
	if err != nil {
		return false, fmt.Errorf("encoding event: %w", err)
	}

	m.mu.Lock()
	ob := m.outboxLocked(identity)
	ev := ob.push(&pendingEvent{
		eventID: eventID,
		msgType: string(msgType),
		frame:   frame,
	})

	client, ok := m.clients[identity]
	if !ok || !client.live || ev.queued {
		m.logger.Debug("host not ready, event queued",
			"discord_user_id", identity,
			"type", msgType,
			"event_id", eventID,
			"pending", ob.len(),
		)
		m.mu.Unlock()
		return false, nil
	}
	item := queueEventLocked(ev)
	client.enqueue(item)
	m.mu.Unlock()

	m.flush(client)

	m.mu.Lock()
	defer m.mu.Unlock()
	return item.written, nil
}

// ReplayPending resends queued events to c in FIFO order. With full every
// unacknowledged event is resent; otherwise only events never written. If
// the queue overflowed since the last replay, a resync_required event
// follows. A client only receives live events after its first replay.
// Returns the number of events written.
func (m *Manager) ReplayPending(c *Client, full bool) int {
	identity := c.Identity()

	m.mu.Lock()
	if m.clients[identity] != c {
		m.mu.Unlock()
		return 0
	}
	events := m.outboxLocked(identity).replayable(full)
	m.mu.Unlock()

	written := 0
	for start := 0; start < len(events); start += m.opts.ReplayBatchSize {
		end := min(start+m.opts.ReplayBatchSize, len(events))
		items, ok := m.enqueueBatch(c, events[start:end])
		if !ok {
			return written
		}
		m.flush(c)
		if n := m.countWritten(items); n < len(items) {
			written += n
			m.logger.Warn("replay interrupted",
				"discord_user_id", identity,
				"written", written,
				"remaining", len(events)-start-n,
			)
			return written
		}
		written += len(items)
		m.logger.Debug("replayed batch", "discord_user_id", identity, "batch_end", end, "total", len(events))
	}

	m.mu.Lock()
	if m.clients[identity] != c {
		m.mu.Unlock()
		return written
	}
	ob := m.outboxLocked(identity)
	var tail []*writeItem
	if !c.live {
		// events pushed while the backlog was being written
		for _, ev := range ob.replayable(false) {
			tail = append(tail, queueEventLocked(ev))
		}
	}
	var resync *writeItem
	if ob.truncated {
		frame, err := protocol.Command{
			Type: protocol.TypeResyncRequired,
			Payload: protocol.ResyncRequired{
				EventID: uuid.New().String(),
				Reason:  "pending_overflow",
				Dropped: ob.dropped,
			},
		}.Marshal()
		if err != nil {
			m.logger.Warn("failed to encode resync_required", "discord_user_id", identity, "error", err)
		} else {
			resync = &writeItem{frame: frame, dropped: ob.dropped}
			ob.truncated = false
			ob.dropped = 0
		}
	}
	c.enqueue(tail...)
	if resync != nil {
		c.enqueue(resync)
	}
	c.live = true
	m.mu.Unlock()

	m.flush(c)

	m.mu.Lock()
	written += m.countWrittenLocked(tail)
	if resync != nil {
		if resync.written {
			m.logger.Info("pending queue overflowed, resync requested",
				"discord_user_id", identity,
				"dropped", resync.dropped,
			)
		} else {
			m.logger.Warn("failed to send resync_required", "discord_user_id", identity)
		}
	}
	m.mu.Unlock()

	if written > 0 {
		m.logger.Info("replayed pending events", "discord_user_id", identity, "count", written, "full", full)
	}
	return written
}

// enqueueBatch puts the still-pending events of batch on c's write queue.
// It reports false when c is no longer the identity's active client.
func (m *Manager) enqueueBatch(c *Client, batch []*pendingEvent) ([]*writeItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity := c.Identity()
	if m.clients[identity] != c {
		return nil, false
	}
	ob := m.outboxLocked(identity)
	items := make([]*writeItem, 0, len(batch))
	for _, ev := range batch {
		if ev.queued || !ob.contains(ev) {
			continue
		}
		items = append(items, queueEventLocked(ev))
	}
	c.enqueue(items...)
	return items, true
}

// flush writes c's queued frames in order. Only one goroutine writes to a
// client at a time; m.mu is never held across a socket write. After a write
// error the rest of the queue is abandoned and stays in the outbox for the
// next replay.
func (m *Manager) flush(c *Client) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for {
		item, ok := c.dequeue()
		if !ok {
			return
		}
		err := c.socket.WriteFrame(item.frame)

		m.mu.Lock()
		if err == nil {
			item.written = true
			if item.event != nil {
				item.event.queued = false
				item.event.sent = true
			}
			m.mu.Unlock()
			continue
		}
		failed := append([]*writeItem{item}, c.drain()...)
		ob := m.outboxLocked(c.Identity())
		for _, it := range failed {
			if it.event != nil {
				it.event.queued = false
			}
			if it.dropped > 0 {
				ob.truncated = true
				ob.dropped += it.dropped
			}
		}
		m.mu.Unlock()

		m.logger.Warn("failed to deliver event, kept for replay",
			"discord_user_id", c.Identity(),
			"abandoned", len(failed),
			"error", err,
		)
		return
	}
}

func (m *Manager) countWritten(items []*writeItem) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countWrittenLocked(items)
}

func (m *Manager) countWrittenLocked(items []*writeItem) int {
	n := 0
	for _, it := range items {
		if it.written {
			n++
		}
	}
	return n
}

func queueEventLocked(ev *pendingEvent) *writeItem {
	ev.queued = true
	return &writeItem{frame: ev.frame, event: ev}
}

// ProcessAck drops acknowledged events and returns how many were pending.
func (m *Manager) ProcessAck(identity string, eventIDs []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ob, ok := m.outboxes[identity]
	if !ok {
		return 0
	}
	n := 0
	for _, id := range eventIDs {
		if ob.ack(id) {
			n++
		}
	}
	return n
}

// Heartbeat records liveness for c.
func (m *Manager) Heartbeat(c *Client) {
	c.touch(m.now())
}

// PendingCount returns the number of unacknowledged events for identity.
func (m *Manager) PendingCount(identity string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ob, ok := m.outboxes[identity]; ok {
		return ob.len()
	}
	return 0
}

// CloseAll closes every connected client with the given code.
func (m *Manager) CloseAll(code int, reason string) {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	for _, c := range clients {
		if err := c.Close(code, reason); err != nil {
			m.logger.Debug("closing client", "discord_user_id", c.Identity(), "error", err)
		}
	}
}

func (m *Manager) outboxLocked(identity string) *outbox {
	ob, ok := m.outboxes[identity]
	if !ok {
		ob = newOutbox(m.opts.PendingReplayLimit)
		m.outboxes[identity] = ob
	}
	return ob
}
