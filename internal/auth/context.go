// ABOUTME: Authentication context for tracking the API token identity through handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// AuthContext holds the identity of the token that authenticated a request.
// It is populated by TokenMiddleware and read by handlers for logging.
type AuthContext struct {
	TokenName string // name of the matched token, e.g. "Default"
	IsDefault bool   // true when the Default token was used
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	val := ctx.Value(authContextKey{})
	if val == nil {
		return nil
	}
	auth, ok := val.(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}

// TokenName returns the authenticated token's name, or "" for anonymous contexts
func TokenName(ctx context.Context) string {
	if a := FromContext(ctx); a != nil {
		return a.TokenName
	}
	return ""
}

// UsedDefaultToken reports whether the request authenticated with the Default token
func UsedDefaultToken(ctx context.Context) bool {
	if a := FromContext(ctx); a != nil {
		return a.IsDefault
	}
	return false
}
