package identity

import "context"

// Identity is what a request knows about its caller.
type Identity struct {
	// UserKey identifies the end user. Empty for anonymous callers.
	UserKey string

	// BaseURL is the externally visible base URL of this gateway for the request.
	BaseURL string

	// ResolvedToken is the upstream access token, once resolved.
	ResolvedToken string
}

type contextKey struct{}

// WithIdentity returns a child context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity attached to ctx.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// WithResolvedToken returns a child context whose identity carries tok. The parent
// context is not modified.
func WithResolvedToken(ctx context.Context, tok string) context.Context {
	id, _ := FromContext(ctx)
	id.ResolvedToken = tok
	return WithIdentity(ctx, id)
}
