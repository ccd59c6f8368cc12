// ABOUTME: Represents a single authenticated host connection
// ABOUTME: Wraps the socket together with the session that authenticated it

package connection

import (
	"fmt"
	"sync"
	"time"

	"github.com/maha0525/SAIVerse-sub002/internal/protocol"
	"github.com/maha0525/SAIVerse-sub002/internal/store"
)

// Socket is the write side of one WebSocket connection. Implementations
// serialize concurrent writers and apply their own write deadlines.
type Socket interface {
	WriteFrame(data []byte) error
	Close(code int, reason string) error
	RemoteAddr() string
}

// writeItem is one frame waiting in a client's write queue.
type writeItem struct {
	frame   []byte
	event   *pendingEvent // nil for frames outside the outbox
	dropped int           // overflow count carried by a resync_required frame
	written bool
}

// Client is an authenticated host connection.
type Client struct {
	Session     *store.Session
	ConnectedAt time.Time

	socket Socket

	// live is set once the backlog has been replayed; guarded by Manager.mu
	live bool

	// writeMu is held for the duration of a socket write. It may be taken
	// before Manager.mu but never while holding it.
	writeMu sync.Mutex

	qmu   sync.Mutex
	queue []*writeItem

	mu            sync.Mutex
	lastHeartbeat time.Time
}

// newClient creates a Client for an authenticated session.
func newClient(sess *store.Session, socket Socket, now time.Time) *Client {
	return &Client{
		Session:       sess,
		ConnectedAt:   now,
		socket:        socket,
		lastHeartbeat: now,
	}
}

// Identity returns the platform user id the client authenticated as.
func (c *Client) Identity() string {
	return c.Session.DiscordUserID
}

// SessionID returns the numeric session id.
func (c *Client) SessionID() int64 {
	return c.Session.ID
}

// LastHeartbeat returns when the client last sent a heartbeat.
func (c *Client) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// RemoteAddr returns the peer address of the underlying socket.
func (c *Client) RemoteAddr() string {
	return c.socket.RemoteAddr()
}

// Send encodes and writes one frame directly to the socket, bypassing the outbox.
func (c *Client) Send(cmd protocol.Command) error {
	data, err := cmd.Marshal()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.socket.WriteFrame(data); err != nil {
		return fmt.Errorf("writing %s: %w", cmd.Type, err)
	}
	return nil
}

// Close closes the socket with a WebSocket close code.
func (c *Client) Close(code int, reason string) error {
	return c.socket.Close(code, reason)
}

// enqueue appends items to the write queue. Callers hold Manager.mu so the
// queue order matches the outbox order.
func (c *Client) enqueue(items ...*writeItem) {
	c.qmu.Lock()
	c.queue = append(c.queue, items...)
	c.qmu.Unlock()
}

func (c *Client) dequeue() (*writeItem, bool) {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	item := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return item, true
}

// drain empties the write queue and returns what was left.
func (c *Client) drain() []*writeItem {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	rest := c.queue
	c.queue = nil
	return rest
}

func (c *Client) touch(now time.Time) {
	c.mu.Lock()
	c.lastHeartbeat = now
	c.mu.Unlock()
}
