// Package auth resolves session principals: signup with emailed codes,
// password login, Google OAuth, and the signed session tokens that carry
// identity on every authenticated request.
package auth

import "context"

// Principal identifies the authenticated caller. Every org-scoped query
// downstream takes OrgID from here, never from request input.
type Principal struct {
	UserID string
	OrgID  string
	Email  string
}

type ctxKey int

const principalKey ctxKey = iota

// WithPrincipal attaches the principal to the request context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal attached by the session middleware.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}
