package identity

import "context"

type identityContextKey struct{}

// ContextWith stores the resolved identity in context.
func ContextWith(ctx context.Context, ident *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, ident)
}

// FromContext extracts the resolved identity, or nil when the request is
// unauthenticated.
func FromContext(ctx context.Context) *Identity {
	ident, _ := ctx.Value(identityContextKey{}).(*Identity)
	return ident
}
