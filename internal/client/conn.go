// ABOUTME: Single WebSocket connection from a host to the bot gateway
// ABOUTME: Dial performs the hello handshake; Send and Receive exchange protocol frames

package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maha0525/SAIVerse-sub002/internal/protocol"
)

var (
	// ErrHandshake indicates the bot rejected or garbled the hello exchange.
	ErrHandshake = errors.New("handshake failed")

	// ErrHandshakeTimeout indicates no hello_ack arrived in time.
	ErrHandshakeTimeout = errors.New("handshake timed out")
)

const writeTimeout = 10 * time.Second

// Options describes how to reach the bot.
type Options struct {
	URL              string
	HandshakeTimeout time.Duration
	MaxPayloadSize   int64
	TLSConfig        *tls.Config
}

// Conn is an authenticated connection to the bot.
type Conn struct {
	ws        *websocket.Conn
	sessionID int64

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial connects to the bot and completes the hello handshake with token.
// Rejections are reported as ErrHandshake; a silent peer as ErrHandshakeTimeout.
func Dial(ctx context.Context, opts Options, token string) (*Conn, error) {
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		TLSClientConfig:  opts.TLSConfig,
		Proxy:            websocket.DefaultDialer.Proxy,
	}
	ws, resp, err := dialer.DialContext(ctx, opts.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", opts.URL, err)
	}
	if opts.MaxPayloadSize > 0 {
		ws.SetReadLimit(opts.MaxPayloadSize)
	}

	c := &Conn{ws: ws}
	if err := c.handshake(token, timeout); err != nil {
		_ = ws.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) handshake(token string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	hello, err := json.Marshal(protocol.Hello{Type: protocol.TypeHello, Token: token})
	if err != nil {
		return fmt.Errorf("encoding hello: %w", err)
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, hello); err != nil {
		return fmt.Errorf("%w: sending hello: %v", ErrHandshake, err)
	}

	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return err
	}
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrHandshakeTimeout
		}
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			if closeErr.Code == protocol.CloseHandshakeTimeout {
				return fmt.Errorf("%w: closed by server (%d %s)", ErrHandshakeTimeout, closeErr.Code, closeErr.Text)
			}
			return fmt.Errorf("%w: closed by server (%d %s)", ErrHandshake, closeErr.Code, closeErr.Text)
		}
		return fmt.Errorf("%w: reading hello_ack: %v", ErrHandshake, err)
	}

	var ack protocol.HelloAck
	if err := json.Unmarshal(data, &ack); err != nil {
		return fmt.Errorf("%w: decoding hello_ack: %v", ErrHandshake, err)
	}
	if ack.Type != protocol.TypeHelloAck || ack.Status != protocol.StatusOK {
		return fmt.Errorf("%w: unexpected reply %q status %q", ErrHandshake, ack.Type, ack.Status)
	}
	c.sessionID = ack.SessionID

	return c.ws.SetReadDeadline(time.Time{})
}

// SessionID returns the session id reported in hello_ack.
func (c *Conn) SessionID() int64 {
	return c.sessionID
}

// Send writes one command frame.
func (c *Conn) Send(cmd protocol.Command) error {
	data, err := cmd.Marshal()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("sending %s: %w", cmd.Type, err)
	}
	return nil
}

// Receive blocks for the next frame. A positive timeout bounds the wait.
// Malformed frames are returned as protocol.ErrMalformedFrame so callers can skip them.
func (c *Conn) Receive(timeout time.Duration) (protocol.Event, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return protocol.Event{}, err
	}
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return protocol.Event{}, fmt.Errorf("receiving: %w", err)
	}
	return protocol.Decode(data)
}

// Close sends a normal close frame and closes the socket. Safe to call repeatedly.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
