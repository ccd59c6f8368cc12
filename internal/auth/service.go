// ABOUTME: AuthService issues, resolves and revokes gateway session tokens
// ABOUTME: Drives the OAuth authorization code flow against the chat platform

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/maha0525/SAIVerse-sub002/internal/store"
)

// Service errors
var (
	// ErrOAuthState is returned when the state is missing, expired or already consumed.
	ErrOAuthState = errors.New("invalid oauth state")
	// ErrTokenExchange is returned when the platform rejects the code or identity request.
	ErrTokenExchange = errors.New("token exchange failed")
	// ErrInvalidSession is returned when a raw token does not resolve to an active session.
	ErrInvalidSession = errors.New("invalid session token")
)

// stateBytes is the entropy of an authorization state value.
const stateBytes = 32

// SessionStore is the persistence the service needs.
type SessionStore interface {
	SaveOAuthState(ctx context.Context, st *store.OAuthState) error
	ConsumeOAuthState(ctx context.Context, state string, now time.Time) (*store.OAuthState, error)
	ReplaceSession(ctx context.Context, sess *store.Session) error
	FindActiveSession(ctx context.Context, tokenHash string, now time.Time) (*store.Session, error)
	TouchSession(ctx context.Context, sessionID int64, now time.Time) error
	RevokeSessionByHash(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	RevokeSessionsForUser(ctx context.Context, discordUserID string, now time.Time) (int, error)
	CleanupOAuthStates(ctx context.Context, now time.Time) (int64, error)
	CleanupSessions(ctx context.Context, now time.Time) (int64, error)
}

// ServiceConfig holds the session and OAuth settings used by Service.
type ServiceConfig struct {
	Provider    ProviderConfig
	RedirectURI string
	Scopes      []string
	StateTTL    time.Duration
	TokenLength int
	TokenPepper []byte
	SessionTTL  time.Duration
}

// Authorization is the result of BeginAuthorization.
type Authorization struct {
	AuthorizeURL string
	State        string
}

// IssuedToken is returned once to the user; only its hash is kept.
type IssuedToken struct {
	Token         string
	SessionID     int64
	DiscordUserID string
	ExpiresAt     time.Time
}

// Service implements the bot-side authentication flows.
type Service struct {
	cfg      ServiceConfig
	store    SessionStore
	provider ProviderClient
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates an AuthService.
func NewService(cfg ServiceConfig, st SessionStore, provider ProviderClient, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		store:    st,
		provider: provider,
		logger:   logger.With("component", "auth"),
		now:      time.Now,
	}
}

// BeginAuthorization creates a single-use state and returns the platform URL
// the user must visit. Empty redirectURI or scopes fall back to the configured ones.
func (s *Service) BeginAuthorization(ctx context.Context, redirectURI string, scopes []string) (*Authorization, error) {
	if redirectURI == "" {
		redirectURI = s.cfg.RedirectURI
	}
	if len(scopes) == 0 {
		scopes = s.cfg.Scopes
	}

	state, err := randomToken(stateBytes)
	if err != nil {
		return nil, fmt.Errorf("generating state: %w", err)
	}

	now := s.now()
	if err := s.store.SaveOAuthState(ctx, &store.OAuthState{
		State:       state,
		RedirectURI: redirectURI,
		Scopes:      scopes,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.StateTTL),
	}); err != nil {
		return nil, fmt.Errorf("saving oauth state: %w", err)
	}

	q := url.Values{}
	q.Set("client_id", s.cfg.Provider.ClientID)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("state", state)
	q.Set("redirect_uri", redirectURI)
	q.Set("prompt", "consent")

	authorizeURL := s.cfg.Provider.AuthorizeURL
	if strings.Contains(authorizeURL, "?") {
		authorizeURL += "&" + q.Encode()
	} else {
		authorizeURL += "?" + q.Encode()
	}

	return &Authorization{AuthorizeURL: authorizeURL, State: state}, nil
}

// CompleteAuthorization consumes state, exchanges code, resolves the user and
// issues a fresh session token replacing any previous one for that user.
func (s *Service) CompleteAuthorization(ctx context.Context, code, state, label string) (*IssuedToken, error) {
	st, err := s.store.ConsumeOAuthState(ctx, state, s.now())
	if err != nil {
		if errors.Is(err, store.ErrStateNotFound) {
			return nil, ErrOAuthState
		}
		return nil, fmt.Errorf("consuming oauth state: %w", err)
	}

	redirectURI := st.RedirectURI
	if redirectURI == "" {
		redirectURI = s.cfg.RedirectURI
	}

	tok, err := s.provider.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}

	identity, err := s.provider.FetchIdentity(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	raw, err := randomToken(s.cfg.TokenLength)
	if err != nil {
		return nil, fmt.Errorf("generating session token: %w", err)
	}

	now := s.now()
	sess := &store.Session{
		DiscordUserID: identity.ID,
		TokenHash:     HashToken(s.cfg.TokenPepper, raw),
		Label:         label,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.SessionTTL),
	}
	if err := s.store.ReplaceSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}

	s.logger.Info("issued session token",
		"discord_user_id", identity.ID,
		"username", identity.Username,
		"session_id", sess.ID,
	)

	return &IssuedToken{
		Token:         raw,
		SessionID:     sess.ID,
		DiscordUserID: identity.ID,
		ExpiresAt:     sess.ExpiresAt,
	}, nil
}

// ResolveToken returns the active session for a raw token and records its use.
// Unknown, revoked and expired tokens yield ErrInvalidSession.
func (s *Service) ResolveToken(ctx context.Context, raw string) (*store.Session, error) {
	now := s.now()
	sess, err := s.store.FindActiveSession(ctx, HashToken(s.cfg.TokenPepper, raw), now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("looking up session: %w", err)
	}

	if err := s.store.TouchSession(ctx, sess.ID, now); err != nil {
		s.logger.Warn("failed to record session use", "session_id", sess.ID, "error", err)
	}
	return sess, nil
}

// RevokeToken revokes the session behind a raw token. It reports whether one was revoked.
func (s *Service) RevokeToken(ctx context.Context, raw string) (bool, error) {
	ok, err := s.store.RevokeSessionByHash(ctx, HashToken(s.cfg.TokenPepper, raw), s.now())
	if err != nil {
		return false, err
	}
	if ok {
		s.logger.Info("revoked session token")
	}
	return ok, nil
}

// RevokeTokensForUser revokes every session of a platform user.
func (s *Service) RevokeTokensForUser(ctx context.Context, discordUserID string) (int, error) {
	n, err := s.store.RevokeSessionsForUser(ctx, discordUserID, s.now())
	if err != nil {
		return 0, err
	}
	s.logger.Info("revoked sessions for user", "discord_user_id", discordUserID, "count", n)
	return n, nil
}

// CleanupArtifacts deletes expired or consumed states and expired or revoked sessions.
func (s *Service) CleanupArtifacts(ctx context.Context) (store.CleanupResult, error) {
	now := s.now()

	states, err := s.store.CleanupOAuthStates(ctx, now)
	if err != nil {
		return store.CleanupResult{}, err
	}
	sessions, err := s.store.CleanupSessions(ctx, now)
	if err != nil {
		return store.CleanupResult{OAuthStates: states}, err
	}

	s.logger.Info("cleaned up auth artifacts", "oauth_states", states, "sessions", sessions)
	return store.CleanupResult{OAuthStates: states, Sessions: sessions}, nil
}
