// Package server orchestrates the valueapi server components.
//
// # Overview
//
// Server owns the document backend, the token registry, the history ledger,
// the variable service, the failed-login guard and the admin UI, and serves
// them from one HTTP server.
//
// # HTTP Surface
//
// Token-authenticated endpoints (api.go):
//
//   - GET /get?name=X - raw value as text
//   - POST /set?name=X&value=Y - change an existing value
//   - GET, POST /api/variables - list (?prefix=, ?group=) or create
//   - GET, PUT, DELETE /api/variables/{name}
//   - PUT /api/variables/{name}/group - move to another group
//   - GET /api/variables/{name}/history
//   - GET, POST /api/groups; PUT, DELETE /api/groups/{id}
//   - GET /api/history
//
// Other routes:
//
//   - GET / - usage page rendered from usage.md
//   - GET /health - liveness check
//   - /admin/... - admin UI, see package webadmin
//
// Requests for the data file names (/.env, /config.json, /history.json,
// /settings.json, /valueapi.db) get 403 before routing.
//
// # Listeners
//
// With tailscale.enabled the server joins the tailnet through tsnet and
// listens on port 80 of the node; otherwise it listens on server.http_addr.
//
// # Lifecycle
//
//	srv, err := server.New(ctx, cfg, logger)
//	if err != nil { ... }
//	err = srv.Run(ctx) // blocks until ctx is canceled
//
// Run shuts down with a 5 second grace period once ctx is canceled.
package server
