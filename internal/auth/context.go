// ABOUTME: Request context helpers for the authenticated ingress caller
// ABOUTME: The ingress middleware stores the verified subject for handlers

package auth

import (
	"context"
)

// ingressSubjectKey is the key type for storing the ingress subject in context.Context.
type ingressSubjectKey struct{}

// WithIngressSubject returns a new context carrying the verified token subject.
func WithIngressSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ingressSubjectKey{}, subject)
}

// IngressSubject returns the verified subject, or "" when the request was not authenticated.
func IngressSubject(ctx context.Context) string {
	sub, _ := ctx.Value(ingressSubjectKey{}).(string)
	return sub
}
