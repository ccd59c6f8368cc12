// ABOUTME: Outbound HTTP client for the chat platform's OAuth endpoints
// ABOUTME: Exchanges authorization codes and fetches the authorizing user's identity

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxProviderBody caps how much of a provider response is read.
const maxProviderBody = 1 << 20

// ProviderConfig holds the OAuth client registration.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
	IdentityURL  string
}

// TokenResponse is the subset of the token endpoint response the gateway uses.
type TokenResponse struct {
	AccessToken string
	TokenType   string
	Scope       string
}

// Identity is the platform user who completed authorization.
type Identity struct {
	ID       string
	Username string
}

// ProviderClient encapsulates outbound HTTP calls to the platform.
type ProviderClient interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error)
	FetchIdentity(ctx context.Context, accessToken string) (*Identity, error)
}

// HTTPProviderClient is the default HTTP implementation.
type HTTPProviderClient struct {
	cfg        ProviderConfig
	httpClient *http.Client
}

// NewHTTPProviderClient constructs the default ProviderClient.
func NewHTTPProviderClient(cfg ProviderConfig, client *http.Client) *HTTPProviderClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProviderClient{cfg: cfg, httpClient: client}
}

// ExchangeCode performs the authorization code exchange as one form POST.
func (c *HTTPProviderClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)
	data.Set("client_id", c.cfg.ClientID)
	if c.cfg.ClientSecret != "" {
		data.Set("client_secret", c.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build token request: %v", ErrTokenExchange, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: token request: %v", ErrTokenExchange, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: token endpoint returned status %d", ErrTokenExchange, status)
	}

	var raw struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		Scope       string `json:"scope"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode token response: %v", ErrTokenExchange, err)
	}
	if raw.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response has no access_token", ErrTokenExchange)
	}

	return &TokenResponse{
		AccessToken: raw.AccessToken,
		TokenType:   raw.TokenType,
		Scope:       raw.Scope,
	}, nil
}

// FetchIdentity loads the user profile with a single bearer GET.
func (c *HTTPProviderClient) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.IdentityURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build identity request: %v", ErrTokenExchange, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: identity request: %v", ErrTokenExchange, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: identity endpoint returned status %d", ErrTokenExchange, status)
	}

	var raw struct {
		ID       json.RawMessage `json:"id"`
		Username string          `json:"username"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode identity: %v", ErrTokenExchange, err)
	}

	id := identityString(raw.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: identity has no id", ErrTokenExchange)
	}

	return &Identity{ID: id, Username: raw.Username}, nil
}

func (c *HTTPProviderClient) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// identityString accepts ids encoded as JSON strings or numbers.
func identityString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
