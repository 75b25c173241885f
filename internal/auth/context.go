// Package auth carries the authenticated caller through a request context.
package auth

import "context"

type contextKey struct{}

// AuthContext identifies who made a request. Method records how they
// proved it ("basic" or "none" when auth is disabled).
type AuthContext struct {
	Username string
	Method   string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

// Username returns the caller's name, or "" for anonymous requests.
func Username(ctx context.Context) string {
	ac, _ := FromContext(ctx)
	return ac.Username
}
