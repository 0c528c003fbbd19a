package auth

import (
	"context"

	"tisp.org/internal/trust"
)

type principalContextKey struct{}
type tokenContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal trust.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (trust.Principal, bool) {
	if ctx == nil {
		return trust.Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*trust.Principal)
	if !ok || v == nil {
		return trust.Principal{}, false
	}
	return *v, true
}

// ActorFromContext returns the principal as a trust.Actor, or nil when the
// request was not authenticated.
func ActorFromContext(ctx context.Context) trust.Actor {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil
	}
	return p
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
