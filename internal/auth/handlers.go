// ABOUTME: HTTP handlers for the browser side of the OAuth flow
// ABOUTME: /oauth/start redirects to the platform; /oauth/callback issues the session token

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// OAuthHandler serves the authorization endpoints.
type OAuthHandler struct {
	service *Service
	logger  *slog.Logger
}

// NewOAuthHandler creates handlers bound to service.
func NewOAuthHandler(service *Service, logger *slog.Logger) *OAuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OAuthHandler{service: service, logger: logger.With("component", "oauth")}
}

// issuedTokenResponse is the JSON body returned by the callback.
type issuedTokenResponse struct {
	Token         string `json:"token"`
	SessionID     int64  `json:"session_id"`
	DiscordUserID string `json:"discord_user_id"`
	ExpiresAt     string `json:"expires_at"`
}

// HandleStart begins authorization and redirects to the platform.
// An optional "scope" query parameter overrides the configured scopes.
func (h *OAuthHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var scopes []string
	if raw := r.URL.Query().Get("scope"); raw != "" {
		scopes = strings.Fields(raw)
	}

	authz, err := h.service.BeginAuthorization(r.Context(), "", scopes)
	if err != nil {
		h.logger.Error("failed to begin authorization", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, authz.AuthorizeURL, http.StatusFound)
}

// HandleCallback completes authorization and returns the raw token once.
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		h.logger.Warn("authorization denied by user", "error", errParam)
		http.Error(w, "authorization denied", http.StatusBadRequest)
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}

	issued, err := h.service.CompleteAuthorization(r.Context(), code, state, q.Get("label"))
	switch {
	case errors.Is(err, ErrOAuthState):
		http.Error(w, "invalid or expired state", http.StatusBadRequest)
		return
	case errors.Is(err, ErrTokenExchange):
		h.logger.Warn("token exchange failed", "error", err)
		http.Error(w, "platform rejected authorization", http.StatusBadGateway)
		return
	case err != nil:
		h.logger.Error("failed to complete authorization", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(issuedTokenResponse{
		Token:         issued.Token,
		SessionID:     issued.SessionID,
		DiscordUserID: issued.DiscordUserID,
		ExpiresAt:     issued.ExpiresAt.UTC().Format(time.RFC3339),
	}); err != nil {
		h.logger.Warn("failed to write token response", "error", err)
	}
}
