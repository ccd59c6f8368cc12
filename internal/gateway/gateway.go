// ABOUTME: Gateway server that hosts the WebSocket endpoint and HTTP routes
// ABOUTME: Wires store, auth, connection manager, router and command processor together

package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/tsnet"

	"github.com/maha0525/SAIVerse-sub002/internal/auth"
	"github.com/maha0525/SAIVerse-sub002/internal/config"
	"github.com/maha0525/SAIVerse-sub002/internal/connection"
	"github.com/maha0525/SAIVerse-sub002/internal/platform"
	"github.com/maha0525/SAIVerse-sub002/internal/store"
)

// Gateway is the bot-side server.
type Gateway struct {
	config      *config.Config
	store       *store.SQLiteStore
	ownsStore   bool
	auth        *auth.Service
	connections *connection.Manager
	router      *Router
	processor   *CommandProcessor
	sender      platform.Sender
	upgrader    websocket.Upgrader
	tlsConfig   *tls.Config
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// providerHTTP overrides the HTTP client used for OAuth calls
	providerHTTP *http.Client
}

// Option customizes a Gateway at construction.
type Option func(*Gateway)

// WithStore uses an already opened store. The caller keeps ownership.
func WithStore(s *store.SQLiteStore) Option {
	return func(g *Gateway) { g.store = s }
}

// WithSender replaces the Discord client used to post messages.
func WithSender(s platform.Sender) Option {
	return func(g *Gateway) { g.sender = s }
}

// WithProviderHTTPClient sets the HTTP client used for OAuth provider calls.
func WithProviderHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.providerHTTP = c }
}

// initStore opens the configured database, honoring SAIVERSE_DB_PATH.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("SAIVERSE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway from configuration. TLS material is loaded here so
// that missing files fail startup.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		config: cfg,
		logger: logger.With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}

	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	g.tlsConfig = tlsConfig

	if g.store == nil {
		s, err := initStore(cfg)
		if err != nil {
			return nil, err
		}
		g.store = s
		g.ownsStore = true
	}

	provider := auth.ProviderConfig{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		AuthorizeURL: cfg.OAuth.AuthorizeURL,
		TokenURL:     cfg.OAuth.TokenURL,
		IdentityURL:  cfg.OAuth.IdentityURL,
	}
	g.auth = auth.NewService(auth.ServiceConfig{
		Provider:    provider,
		RedirectURI: cfg.OAuth.RedirectURI,
		Scopes:      cfg.OAuth.Scopes,
		StateTTL:    cfg.OAuth.StateTTL,
		TokenLength: cfg.Session.TokenLength,
		TokenPepper: []byte(cfg.Session.TokenPepper),
		SessionTTL:  cfg.Session.TTL,
	}, g.store, auth.NewHTTPProviderClient(provider, g.providerHTTP), logger)

	g.connections = connection.NewManager(g.auth, connection.Options{
		PendingReplayLimit: cfg.Messaging.PendingReplayLimit,
		ReplayBatchSize:    cfg.Messaging.ReplayBatchSize,
	}, logger)

	if g.sender == nil {
		g.sender = platform.NewDiscordClient(platform.Config{
			APIBase:       cfg.Platform.APIBase,
			BotToken:      cfg.Platform.BotToken,
			RatePerSecond: cfg.Platform.RatePerSecond,
			Burst:         cfg.Platform.Burst,
		}, nil, logger)
	}

	g.router = NewRouter(g.store, g.connections, logger)
	g.processor = NewCommandProcessor(g.store, g.sender, g.connections, cfg.Messaging.MaxMessageLength, logger)

	g.upgrader = websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		// hosts are native clients, not browsers
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	g.httpServer = &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Handler returns the HTTP routes served by the gateway.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(g.config.Server.WSPath, g.handleWebSocket)
	mux.HandleFunc("/health", g.handleHealth)

	oauth := auth.NewOAuthHandler(g.auth, g.logger)
	mux.HandleFunc("/oauth/start", oauth.HandleStart)
	mux.HandleFunc("/oauth/callback", oauth.HandleCallback)

	if g.config.Platform.IngressSecret != "" {
		verifier := auth.NewIngressVerifier([]byte(g.config.Platform.IngressSecret))
		mux.Handle("/platform/events", auth.IngressMiddleware(verifier, g.logger)(http.HandlerFunc(g.handleIngress)))
	} else {
		g.logger.Warn("platform.ingress_secret not set, /platform/events disabled")
	}
	return mux
}

// Auth returns the authentication service.
func (g *Gateway) Auth() *auth.Service { return g.auth }

// Connections returns the connection manager.
func (g *Gateway) Connections() *connection.Manager { return g.connections }

// Router returns the message router.
func (g *Gateway) Router() *Router { return g.router }

// Store returns the backing store.
func (g *Gateway) Store() *store.SQLiteStore { return g.store }

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	var (
		ln  net.Listener
		err error
	)
	if g.config.Tailscale.Enabled {
		ln, err = g.setupTailscaleListener(ctx)
	} else {
		g.logger.Info("starting gateway", "addr", g.config.Server.Addr(), "ws_path", g.config.Server.WSPath)
		ln, err = net.Listen("tcp", g.config.Server.Addr())
		if err != nil {
			err = fmt.Errorf("listening on %s: %w", g.config.Server.Addr(), err)
		}
	}
	if err != nil {
		return nil, err
	}

	if g.tlsConfig != nil {
		ln = tls.NewListener(ln, g.tlsConfig)
	}
	return ln, nil
}

// Run starts the server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String(), "tls", g.tlsConfig != nil)
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	// the run context is already canceled here
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown closes host connections, stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.connections.CloseAll(websocket.CloseGoingAway, "server shutting down")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if g.ownsStore {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth reports liveness and the number of connected hosts.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":          "ok",
		"connected_hosts": g.connections.Count(),
	})
}
