// ABOUTME: Unit tests for ingress JWT verification and the HTTP middleware
// ABOUTME: Tests valid, invalid, expired and wrong-audience tokens

package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-jwt-signing")

func TestIngressVerifier_ValidToken(t *testing.T) {
	verifier := NewIngressVerifier(testSecret)

	token, err := verifier.Generate("discord-relay", time.Hour)
	require.NoError(t, err)

	sub, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "discord-relay", sub)
}

func TestIngressVerifier_InvalidToken(t *testing.T) {
	verifier := NewIngressVerifier(testSecret)

	otherToken, err := NewIngressVerifier([]byte("different-secret")).Generate("x", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "malformed JWT", token: "header.payload.signature"},
		{name: "wrong secret", token: otherToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestIngressVerifier_Expired(t *testing.T) {
	verifier := NewIngressVerifier(testSecret)

	token, err := verifier.Generate("relay", -time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestIngressVerifier_ClaimChecks(t *testing.T) {
	verifier := NewIngressVerifier(testSecret)
	sign := func(claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
		require.NoError(t, err)
		return s
	}
	exp := time.Now().Add(time.Hour).Unix()

	_, err := verifier.Verify(sign(jwt.MapClaims{"sub": "relay", "exp": exp}))
	assert.ErrorIs(t, err, ErrMissingClaim, "missing audience")

	_, err = verifier.Verify(sign(jwt.MapClaims{"sub": "relay", "aud": "elsewhere", "exp": exp}))
	assert.ErrorIs(t, err, ErrMissingClaim, "wrong audience")

	_, err = verifier.Verify(sign(jwt.MapClaims{"aud": IngressAudience, "exp": exp}))
	assert.ErrorIs(t, err, ErrMissingClaim, "missing subject")
}

func TestIngressMiddleware(t *testing.T) {
	verifier := NewIngressVerifier(testSecret)
	var gotSubject string
	handler := IngressMiddleware(verifier, slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = IngressSubject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := verifier.Generate("relay", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + token, want: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/platform/events", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, "relay", gotSubject)
}
