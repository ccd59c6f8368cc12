// ABOUTME: Long-lived host-side service that keeps one gateway connection alive
// ABOUTME: Reconnects with jittered exponential backoff and pumps inbound/outbound queues

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maha0525/SAIVerse-sub002/internal/config"
	"github.com/maha0525/SAIVerse-sub002/internal/protocol"
)

// minBackoff is the floor applied after jitter.
const minBackoff = 100 * time.Millisecond

// TokenProvider supplies the session token for each connection attempt.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed token.
type StaticToken string

// Token returns the fixed token.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("no gateway token configured")
	}
	return string(t), nil
}

// ServiceConfig tunes the reconnect loop and queues.
type ServiceConfig struct {
	Conn Options

	HeartbeatInterval     time.Duration
	RecvTimeout           time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	JitterFraction        float64

	IncomingQueueSize int
	OutgoingQueueSize int
}

// ServiceConfigFromHost builds a ServiceConfig from the host configuration.
func ServiceConfigFromHost(g config.HostGatewayConfig) (ServiceConfig, error) {
	tlsConfig, err := LoadTLSConfig(g)
	if err != nil {
		return ServiceConfig{}, err
	}
	return ServiceConfig{
		Conn: Options{
			URL:              g.URL,
			HandshakeTimeout: g.HandshakeTimeout,
			MaxPayloadSize:   g.MaxPayloadSize,
			TLSConfig:        tlsConfig,
		},
		HeartbeatInterval:     g.HeartbeatInterval,
		RecvTimeout:           g.RecvTimeout,
		ReconnectInitialDelay: g.ReconnectInitialDelay,
		ReconnectMaxDelay:     g.ReconnectMaxDelay,
		JitterFraction:        g.ReconnectJitter,
		IncomingQueueSize:     g.IncomingQueueSize,
		OutgoingQueueSize:     g.OutgoingQueueSize,
	}, nil
}

// Service maintains the connection to the bot. Inbound events are delivered
// on Inbound(); commands queued with Enqueue are sent in order.
type Service struct {
	cfg    ServiceConfig
	tokens TokenProvider
	logger *slog.Logger
	jitter func() float64

	inbound  chan protocol.Event
	outbound chan protocol.Command

	// carry holds a command whose write failed; only the sender touches it
	carry *protocol.Command

	mu        sync.Mutex
	connected bool
	sessionID int64
}

// NewService creates a Service. Zero values in cfg fall back to defaults.
func NewService(cfg ServiceConfig, tokens TokenProvider, logger *slog.Logger) *Service {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ReconnectInitialDelay <= 0 {
		cfg.ReconnectInitialDelay = time.Second
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectInitialDelay {
		cfg.ReconnectMaxDelay = 60 * time.Second
	}
	if cfg.IncomingQueueSize <= 0 {
		cfg.IncomingQueueSize = 256
	}
	if cfg.OutgoingQueueSize <= 0 {
		cfg.OutgoingQueueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		tokens:   tokens,
		logger:   logger.With("component", "gateway-client"),
		jitter:   rand.Float64,
		inbound:  make(chan protocol.Event, cfg.IncomingQueueSize),
		outbound: make(chan protocol.Command, cfg.OutgoingQueueSize),
	}
}

// Inbound returns the channel of events received from the bot.
func (s *Service) Inbound() <-chan protocol.Event {
	return s.inbound
}

// Enqueue queues cmd for sending, blocking while the queue is full.
func (s *Service) Enqueue(ctx context.Context, cmd protocol.Command) error {
	select {
	case s.outbound <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether a handshake-complete connection is active.
func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// SessionID returns the session id of the current or last connection.
func (s *Service) SessionID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Run connects and reconnects until ctx is canceled. It returns nil on cancellation.
func (s *Service) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := s.runOnce(ctx, &attempt)
		if ctx.Err() != nil {
			return nil
		}

		delay := Backoff(attempt, s.cfg.ReconnectInitialDelay, s.cfg.ReconnectMaxDelay, s.cfg.JitterFraction, s.jitter())
		s.logger.Warn("gateway connection lost, retrying",
			"error", err,
			"attempt", attempt+1,
			"delay", delay,
		)
		attempt++

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// runOnce performs one connection lifetime. attempt is reset once the
// handshake succeeds.
func (s *Service) runOnce(ctx context.Context, attempt *int) error {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtaining token: %w", err)
	}

	conn, err := Dial(ctx, s.cfg.Conn, token)
	if err != nil {
		return err
	}
	*attempt = 0
	s.setConnected(true, conn.SessionID())
	defer s.setConnected(false, conn.SessionID())

	s.logger.Info("=== CONNECTED TO GATEWAY ===", "url", s.cfg.Conn.URL, "session_id", conn.SessionID())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.receive(gctx, conn) })
	g.Go(func() error { return s.send(gctx, conn) })
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})

	err = g.Wait()
	s.logger.Info("=== DISCONNECTED FROM GATEWAY ===", "session_id", conn.SessionID())
	if err == nil {
		err = errors.New("connection closed")
	}
	return err
}

func (s *Service) setConnected(connected bool, sessionID int64) {
	s.mu.Lock()
	s.connected = connected
	s.sessionID = sessionID
	s.mu.Unlock()
}

// receive pushes decoded frames into the inbound queue.
func (s *Service) receive(ctx context.Context, conn *Conn) error {
	for {
		ev, err := conn.Receive(s.cfg.RecvTimeout)
		if errors.Is(err, protocol.ErrMalformedFrame) {
			s.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if err != nil {
			return err
		}

		select {
		case s.inbound <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// send drains the outbound queue and emits heartbeats.
func (s *Service) send(ctx context.Context, conn *Conn) error {
	if s.carry != nil {
		if err := conn.Send(*s.carry); err != nil {
			return err
		}
		s.carry = nil
	}

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := conn.Send(protocol.Command{Type: protocol.TypeHeartbeat}); err != nil {
				return err
			}
		case cmd := <-s.outbound:
			if err := conn.Send(cmd); err != nil {
				s.carry = &cmd
				return err
			}
		}
	}
}

// Backoff returns the delay before reconnect attempt number attempt (0-based):
// initial doubled per attempt, capped at max, shifted by up to ±jitter of
// itself according to r in [0, 1), and never below 100ms.
func Backoff(attempt int, initial, maxDelay time.Duration, jitter, r float64) time.Duration {
	delay := initial
	for i := 0; i < attempt && delay < maxDelay; i++ {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	delay += time.Duration(float64(delay) * jitter * (2*r - 1))
	if delay < minBackoff {
		delay = minBackoff
	}
	return delay
}
