// ABOUTME: HTTP middleware for API token authentication on the variable endpoints
// ABOUTME: Accepts the token from ?token=, an Authorization Bearer header, or X-Token

package auth

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/2389/valueapi/internal/tokens"
)

// TokenValidator checks a candidate API token
type TokenValidator interface {
	Validate(ctx context.Context, candidate string) (tokens.Token, bool)
}

// unauthorizedBody is the response for a missing or unknown token
const unauthorizedBody = `{"error":"Invalid or missing token"}`

// ExtractToken returns the API token presented by the request. The query
// parameter wins over headers, matching what existing clients send.
func ExtractToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		if t := strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")); t != "" {
			return t
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Token"))
}

// TokenMiddleware rejects requests without a valid API token and attaches the
// matched token's identity to the request context.
func TokenMiddleware(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := validator.Validate(r.Context(), ExtractToken(r))
			if !ok {
				logger.Warn("rejected request with invalid token",
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(unauthorizedBody))
				return
			}

			authCtx := &AuthContext{TokenName: tok.Name, IsDefault: tok.IsDefault}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// ClientAddr returns the caller's address for logging and history. With
// trustProxy set, the first X-Forwarded-For hop is used when present.
func ClientAddr(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
		if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
			return xr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
