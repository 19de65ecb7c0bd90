// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithPrincipal/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// Principal holds the authenticated identity extracted from a request.
// Populated by the HTTP middleware and retrieved from context in handlers.
type Principal struct {
	ID     string // token subject or API key name
	Method string // "jwt" | "api_key" | "anonymous"
}

// principalKey is the key type for storing Principal in context.Context.
type principalKey struct{}

// WithPrincipal returns a new context with the Principal attached.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext retrieves the Principal from the context, returning nil if not present.
func FromContext(ctx context.Context) *Principal {
	val := ctx.Value(principalKey{})
	if val == nil {
		return nil
	}
	p, ok := val.(*Principal)
	if !ok {
		return nil
	}
	return p
}

// CredentialID returns the rate-limit identifier for the request's credential.
// Anonymous requests (auth disabled) share a single bucket.
func CredentialID(ctx context.Context) string {
	if p := FromContext(ctx); p != nil {
		return p.Method + ":" + p.ID
	}
	return "anonymous"
}
