// ABOUTME: Tests for the AuthService OAuth and session token flows
// ABOUTME: Uses a real SQLite store and an httptest platform for code exchange

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maha0525/SAIVerse-sub002/internal/store"
)

// fakePlatform is an httptest OAuth provider.
type fakePlatform struct {
	server        *httptest.Server
	tokenCalls    atomic.Int32
	identityCalls atomic.Int32
	tokenStatus   int
	identityBody  string
	lastForm      url.Values
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	p := &fakePlatform{
		tokenStatus:  http.StatusOK,
		identityBody: `{"id":"123456789","username":"alice"}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		p.tokenCalls.Add(1)
		_ = r.ParseForm()
		p.lastForm = r.PostForm
		if p.tokenStatus != http.StatusOK {
			w.WriteHeader(p.tokenStatus)
			return
		}
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"access-abc","token_type":"Bearer","scope":"identify"}`)
	})
	mux.HandleFunc("/users/@me", func(w http.ResponseWriter, r *http.Request) {
		p.identityCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer access-abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, p.identityBody)
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func setupService(t *testing.T, platform *fakePlatform) (*Service, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	provider := ProviderConfig{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		AuthorizeURL: "https://discord.example/oauth2/authorize",
		TokenURL:     platform.server.URL + "/oauth2/token",
		IdentityURL:  platform.server.URL + "/users/@me",
	}
	svc := NewService(ServiceConfig{
		Provider:    provider,
		RedirectURI: "https://bot.example/oauth/callback",
		Scopes:      []string{"identify"},
		StateTTL:    10 * time.Minute,
		TokenLength: 48,
		TokenPepper: []byte("pepper"),
		SessionTTL:  30 * 24 * time.Hour,
	}, st, NewHTTPProviderClient(provider, platform.server.Client()), nil)
	return svc, st
}

func TestBeginAuthorization_URL(t *testing.T) {
	platform := newFakePlatform(t)
	svc, _ := setupService(t, platform)

	authz, err := svc.BeginAuthorization(context.Background(), "", []string{"identify", "guilds"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(authz.State), 43)

	u, err := url.Parse(authz.AuthorizeURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "identify guilds", q.Get("scope"))
	assert.Equal(t, authz.State, q.Get("state"))
	assert.Equal(t, "https://bot.example/oauth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "consent", q.Get("prompt"))
}

func TestCompleteAuthorization_IssuesToken(t *testing.T) {
	platform := newFakePlatform(t)
	svc, st := setupService(t, platform)
	ctx := context.Background()

	authz, err := svc.BeginAuthorization(ctx, "", nil)
	require.NoError(t, err)

	issued, err := svc.CompleteAuthorization(ctx, "good-code", authz.State, "laptop")
	require.NoError(t, err)
	assert.Equal(t, "123456789", issued.DiscordUserID)
	assert.NotEmpty(t, issued.Token)
	assert.NotZero(t, issued.SessionID)

	assert.Equal(t, int32(1), platform.tokenCalls.Load())
	assert.Equal(t, int32(1), platform.identityCalls.Load())
	assert.Equal(t, "https://bot.example/oauth/callback", platform.lastForm.Get("redirect_uri"))
	assert.Equal(t, "client-1", platform.lastForm.Get("client_id"))

	sess, err := st.GetSessionByUser(ctx, "123456789")
	require.NoError(t, err)
	assert.NotEqual(t, issued.Token, sess.TokenHash, "raw token is never stored")
	assert.Equal(t, HashToken([]byte("pepper"), issued.Token), sess.TokenHash)

	resolved, err := svc.ResolveToken(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, issued.SessionID, resolved.ID)
}

func TestCompleteAuthorization_StateSingleUse(t *testing.T) {
	platform := newFakePlatform(t)
	svc, _ := setupService(t, platform)
	ctx := context.Background()

	authz, err := svc.BeginAuthorization(ctx, "", nil)
	require.NoError(t, err)

	_, err = svc.CompleteAuthorization(ctx, "good-code", authz.State, "")
	require.NoError(t, err)

	_, err = svc.CompleteAuthorization(ctx, "good-code", authz.State, "")
	assert.ErrorIs(t, err, ErrOAuthState)

	_, err = svc.CompleteAuthorization(ctx, "good-code", "never-issued", "")
	assert.ErrorIs(t, err, ErrOAuthState)
	assert.Equal(t, int32(1), platform.tokenCalls.Load(), "bad states never reach the platform")
}

func TestCompleteAuthorization_ExpiredState(t *testing.T) {
	platform := newFakePlatform(t)
	svc, _ := setupService(t, platform)
	ctx := context.Background()

	authz, err := svc.BeginAuthorization(ctx, "", nil)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	_, err = svc.CompleteAuthorization(ctx, "good-code", authz.State, "")
	assert.ErrorIs(t, err, ErrOAuthState)
}

func TestCompleteAuthorization_ExchangeFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *fakePlatform)
		code  string
	}{
		{name: "bad code", code: "bad-code"},
		{name: "token endpoint error", code: "good-code", setup: func(p *fakePlatform) { p.tokenStatus = http.StatusInternalServerError }},
		{name: "identity without id", code: "good-code", setup: func(p *fakePlatform) { p.identityBody = `{"username":"x"}` }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			platform := newFakePlatform(t)
			if tt.setup != nil {
				tt.setup(platform)
			}
			svc, _ := setupService(t, platform)
			ctx := context.Background()

			authz, err := svc.BeginAuthorization(ctx, "", nil)
			require.NoError(t, err)

			_, err = svc.CompleteAuthorization(ctx, tt.code, authz.State, "")
			assert.ErrorIs(t, err, ErrTokenExchange)
		})
	}
}

func TestCompleteAuthorization_ReissueReplacesToken(t *testing.T) {
	platform := newFakePlatform(t)
	svc, _ := setupService(t, platform)
	ctx := context.Background()

	issue := func() *IssuedToken {
		authz, err := svc.BeginAuthorization(ctx, "", nil)
		require.NoError(t, err)
		issued, err := svc.CompleteAuthorization(ctx, "good-code", authz.State, "")
		require.NoError(t, err)
		return issued
	}

	first := issue()
	second := issue()
	assert.NotEqual(t, first.Token, second.Token)

	_, err := svc.ResolveToken(ctx, first.Token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = svc.ResolveToken(ctx, second.Token)
	assert.NoError(t, err)
}

func TestRevokeAndCleanup(t *testing.T) {
	platform := newFakePlatform(t)
	svc, _ := setupService(t, platform)
	ctx := context.Background()

	authz, err := svc.BeginAuthorization(ctx, "", nil)
	require.NoError(t, err)
	issued, err := svc.CompleteAuthorization(ctx, "good-code", authz.State, "")
	require.NoError(t, err)

	ok, err := svc.RevokeToken(ctx, issued.Token)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.ResolveToken(ctx, issued.Token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	n, err := svc.RevokeTokensForUser(ctx, issued.DiscordUserID)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "already revoked")

	_, err = svc.BeginAuthorization(ctx, "", nil)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	res, err := svc.CleanupArtifacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.OAuthStates, "one consumed, one expired")
	assert.Equal(t, int64(1), res.Sessions)
}

func TestResolveToken_Expired(t *testing.T) {
	platform := newFakePlatform(t)
	svc, _ := setupService(t, platform)
	ctx := context.Background()

	authz, err := svc.BeginAuthorization(ctx, "", nil)
	require.NoError(t, err)
	issued, err := svc.CompleteAuthorization(ctx, "good-code", authz.State, "")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	_, err = svc.ResolveToken(ctx, issued.Token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestOAuthHandler_Flow(t *testing.T) {
	platform := newFakePlatform(t)
	svc, _ := setupService(t, platform)
	h := NewOAuthHandler(svc, nil)

	rec := httptest.NewRecorder()
	h.HandleStart(rec, httptest.NewRequest(http.MethodGet, "/oauth/start", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	rec = httptest.NewRecorder()
	h.HandleCallback(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback?code=good-code&state="+url.QueryEscape(state), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body issuedTokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "123456789", body.DiscordUserID)
	assert.NotEmpty(t, body.Token)

	rec = httptest.NewRecorder()
	h.HandleCallback(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback?code=good-code&state="+url.QueryEscape(state), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleCallback(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHashToken(t *testing.T) {
	a := HashToken([]byte("pepper"), "token")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashToken([]byte("pepper"), "token"))
	assert.NotEqual(t, a, HashToken([]byte("other"), "token"))
	assert.NotEqual(t, a, HashToken(nil, "token"))
}
