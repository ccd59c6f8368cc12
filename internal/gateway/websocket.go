// ABOUTME: WebSocket endpoint for host connections
// ABOUTME: Runs the hello handshake, then dispatches host commands in arrival order

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/maha0525/SAIVerse-sub002/internal/connection"
	"github.com/maha0525/SAIVerse-sub002/internal/protocol"
)

// writeTimeout bounds every frame write, including control frames.
const writeTimeout = 10 * time.Second

// wsSocket adapts a gorilla connection to connection.Socket.
type wsSocket struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
}

func newWSSocket(conn *websocket.Conn) *wsSocket {
	return &wsSocket{conn: conn}
}

// WriteFrame writes one text frame.
func (s *wsSocket) WriteFrame(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Ping sends a WebSocket ping control frame.
func (s *wsSocket) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// Close sends a close frame with code and closes the connection. Safe to call repeatedly.
func (s *wsSocket) Close(code int, reason string) error {
	var err error
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

// RemoteAddr returns the peer address.
func (s *wsSocket) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// handleWebSocket upgrades the request and serves one host connection.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(g.config.Server.MaxPayloadSize)

	socket := newWSSocket(conn)
	defer socket.Close(websocket.CloseNormalClosure, "")

	client := g.handshake(r.Context(), conn, socket)
	if client == nil {
		return
	}
	defer g.connections.Unregister(client)

	g.serveClient(r.Context(), conn, socket, client)
}

// handshake waits for the hello frame and authenticates it. On failure the
// socket is closed with the matching close code and nil is returned.
func (g *Gateway) handshake(ctx context.Context, conn *websocket.Conn, socket *wsSocket) *connection.Client {
	logger := g.logger.With("remote", socket.RemoteAddr())

	if err := conn.SetReadDeadline(time.Now().Add(g.config.Server.HandshakeTimeout)); err != nil {
		return nil
	}

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			logger.Info("handshake timed out")
			_ = socket.Close(protocol.CloseHandshakeTimeout, "handshake timeout")
			return nil
		}
		logger.Debug("connection closed during handshake", "error", err)
		return nil
	}

	hello, ok := parseHello(msgType, data)
	if !ok {
		logger.Info("invalid hello frame")
		_ = socket.Close(protocol.CloseProtocolError, "expected hello")
		return nil
	}

	client, err := g.connections.Authenticate(ctx, hello.Token, socket)
	if err != nil {
		_ = socket.Close(protocol.CloseAuthFailed, "authentication failed")
		return nil
	}

	ack, err := json.Marshal(protocol.HelloAck{
		Type:      protocol.TypeHelloAck,
		Status:    protocol.StatusOK,
		SessionID: client.SessionID(),
	})
	if err == nil {
		err = socket.WriteFrame(ack)
	}
	if err != nil {
		logger.Warn("failed to send hello_ack", "error", err)
		g.connections.Unregister(client)
		return nil
	}
	return client
}

// parseHello validates the first frame of a connection.
func parseHello(msgType int, data []byte) (protocol.Hello, bool) {
	var hello protocol.Hello
	if msgType != websocket.TextMessage {
		return hello, false
	}
	if err := json.Unmarshal(data, &hello); err != nil {
		return hello, false
	}
	if hello.Type != protocol.TypeHello {
		return hello, false
	}
	if n := utf8.RuneCountInString(hello.Token); n < protocol.MinTokenLength || n > protocol.MaxTokenLength {
		return hello, false
	}
	return hello, true
}

// serveClient replays the backlog and then processes frames until the
// connection fails or is replaced.
func (g *Gateway) serveClient(ctx context.Context, conn *websocket.Conn, socket *wsSocket, client *connection.Client) {
	logger := g.logger.With("discord_user_id", client.Identity(), "session_id", client.SessionID())

	readWindow := 3 * g.config.Server.HeartbeatInterval
	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(readWindow))
	}
	if err := extend(); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error { return extend() })

	done := make(chan struct{})
	defer close(done)
	go g.pingLoop(socket, done, logger)

	g.connections.ReplayPending(client, true)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, protocol.CloseReplaced) {
				logger.Info("host connection lost", "error", err)
			} else {
				logger.Debug("host connection closed", "error", err)
			}
			return
		}
		if err := extend(); err != nil {
			return
		}

		ev, err := protocol.Decode(data)
		if err != nil {
			logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		g.dispatch(ctx, client, ev, logger)
	}
}

// dispatch handles one host frame. Errors are logged, never fatal.
func (g *Gateway) dispatch(ctx context.Context, client *connection.Client, ev protocol.Event, logger *slog.Logger) {
	switch ev.Type {
	case protocol.TypeHeartbeat:
		g.connections.Heartbeat(client)
		if err := client.Send(protocol.Command{Type: protocol.TypeHeartbeatAck}); err != nil {
			logger.Debug("failed to send heartbeat_ack", "error", err)
		}

	case protocol.TypeAck:
		var ack protocol.Ack
		if err := ev.DecodePayload(&ack); err != nil {
			logger.Warn("invalid ack", "error", err)
			return
		}
		n := g.connections.ProcessAck(client.Identity(), ack.IDs())
		logger.Debug("processed ack", "acked", n, "pending", g.connections.PendingCount(client.Identity()))

	case protocol.TypeStateSyncRequest:
		var req protocol.StateSyncRequest
		_ = ev.DecodePayload(&req)
		pending := g.connections.PendingCount(client.Identity())
		logger.Info("state sync requested", "reason", req.Reason, "pending", pending)
		if err := client.Send(protocol.Command{
			Type:    protocol.TypeStateSyncAck,
			Payload: protocol.StateSyncAck{Pending: pending},
		}); err != nil {
			logger.Debug("failed to send state_sync_ack", "error", err)
			return
		}
		g.connections.ReplayPending(client, false)

	default:
		if !protocol.IsHostCommand(ev.Type) {
			logger.Debug("ignoring unrecognized frame", "type", ev.Type)
			return
		}
		if err := g.processor.Process(ctx, client.Identity(), ev); err != nil {
			logger.Warn("command rejected", "type", ev.Type, "error", err)
		}
	}
}

// pingLoop sends WebSocket pings every heartbeat interval until done closes.
func (g *Gateway) pingLoop(socket *wsSocket, done <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(g.config.Server.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := socket.Ping(); err != nil {
				logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}
