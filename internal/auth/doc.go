// Package auth authenticates API requests for valueapi.
//
// # API Tokens
//
// Every route under /get, /set and /api is wrapped by TokenMiddleware. The
// token may be presented three ways, checked in this order:
//
//	GET /get?name=foo&token=SECRET
//	Authorization: Bearer SECRET
//	X-Token: SECRET
//
// Secrets are checked against the token registry (internal/tokens); any
// registered token, including Default, is accepted. A missing or unknown
// token gets 401 with {"error":"Invalid or missing token"}.
//
// # Context
//
// The matched token is attached to the request context:
//
//	authCtx := auth.FromContext(r.Context())
//	logger.Info("request", "token", authCtx.TokenName)
//
// # Client Address
//
// ClientAddr extracts the caller's IP for history entries. X-Forwarded-For is
// only honored when the server is configured to trust a reverse proxy.
//
// Admin UI sessions are separate and live in internal/session.
package auth
