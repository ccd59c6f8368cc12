// Package auth provides authentication for the bot side of the gateway.
//
// # Session Tokens
//
// Hosts authenticate their WebSocket connection with an opaque session token.
// Tokens are issued through the platform's OAuth authorization code flow:
//
//	authz, _ := svc.BeginAuthorization(ctx, "", nil)   // user visits authz.AuthorizeURL
//	issued, _ := svc.CompleteAuthorization(ctx, code, state, "laptop")
//
// Only a keyed BLAKE2b-256 hash of the token is stored. Each platform user has
// at most one session; issuing a new token invalidates the previous one.
// ResolveToken maps a presented token to its active session.
//
// # Ingress Tokens
//
// The platform integration posts events to the gateway with an HS256 JWT in
// the Authorization header. IngressVerifier checks the signature, expiry and
// audience; IngressMiddleware rejects requests that fail.
//
// # Errors
//
//   - ErrOAuthState: state missing, expired or already consumed
//   - ErrTokenExchange: the platform rejected the code or identity request
//   - ErrInvalidSession: token unknown, revoked or expired
//   - ErrInvalidToken, ErrExpiredToken, ErrMissingClaim: ingress JWT failures
package auth
