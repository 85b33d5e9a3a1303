// ABOUTME: Server orchestrator that wires stores, services, the token API and the admin UI
// ABOUTME: Manages TCP or tailnet listeners, health endpoint, and graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/valueapi/internal/auth"
	"github.com/2389/valueapi/internal/config"
	"github.com/2389/valueapi/internal/history"
	"github.com/2389/valueapi/internal/loginguard"
	"github.com/2389/valueapi/internal/session"
	"github.com/2389/valueapi/internal/store"
	"github.com/2389/valueapi/internal/tokens"
	"github.com/2389/valueapi/internal/vars"
	"github.com/2389/valueapi/internal/webadmin"
)

// loginGuardSize caps the number of addresses tracked for failed logins
const loginGuardSize = 10_000

// sensitivePaths are refused outright even though nothing serves them, so a
// misconfigured static file server in front never exposes the data files.
var sensitivePaths = map[string]bool{
	"/.env":          true,
	"/config.json":   true,
	"/history.json":  true,
	"/settings.json": true,
	"/valueapi.db":   true,
}

// Server owns every valueapi component for one process.
type Server struct {
	config      *config.Config
	backend     store.Backend
	tokens      *tokens.Registry
	ledger      *history.Ledger
	vars        *vars.Service
	guard       *loginguard.Guard
	webAdmin    *webadmin.Admin
	handler     http.Handler
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// OpenBackend opens the document backend selected by storage.driver
func OpenBackend(cfg *config.Config) (store.Backend, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		b, err := store.NewSQLiteBackend(cfg.SQLitePath())
		if err != nil {
			return nil, fmt.Errorf("opening sqlite backend: %w", err)
		}
		return b, nil
	case config.DriverFile, "":
		b, err := store.NewFileBackend(cfg.Storage.Dir)
		if err != nil {
			return nil, fmt.Errorf("opening file backend: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// New opens storage and builds every component. The Default API token is
// created during construction if the store does not have one yet.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	backend, err := OpenBackend(cfg)
	if err != nil {
		return nil, err
	}
	return newWithBackend(ctx, cfg, backend, logger)
}

func newWithBackend(ctx context.Context, cfg *config.Config, backend store.Backend, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry, err := tokens.New(ctx, backend, tokens.Options{
		BootstrapSecret: cfg.Auth.Token,
		Defaults:        tokens.Settings{HistoryLimit: cfg.History.Limit},
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	ledger := history.New(backend, registry.Settings(ctx).HistoryLimit)
	registry.OnSettingsChange(func(s tokens.Settings) {
		ledger.SetLimit(s.HistoryLimit)
	})

	svc := vars.NewService(store.NewConfigStore(backend), ledger)
	guard := loginguard.New(cfg.Admin.LoginWindow, cfg.Admin.MaxLoginAttempts, loginGuardSize)

	admin, err := webadmin.New(webadmin.Config{
		Vars:         svc,
		Tokens:       registry,
		Sessions:     session.NewManager(),
		Guard:        guard,
		Password:     cfg.Admin.Password,
		PasswordHash: cfg.Admin.PasswordHash,
		CookieSecure: cfg.Admin.CookieSecure,
		TrustProxy:   cfg.Server.TrustProxy,
		Logger:       logger,
	})
	if err != nil {
		guard.Close()
		_ = backend.Close()
		return nil, fmt.Errorf("creating admin UI: %w", err)
	}

	s := &Server{
		config:   cfg,
		backend:  backend,
		tokens:   registry,
		ledger:   ledger,
		vars:     svc,
		guard:    guard,
		webAdmin: admin,
		logger:   logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	s.registerAPIRoutes(mux)
	admin.RegisterRoutes(mux)

	s.handler = s.guardSensitivePaths(mux)
	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler returns the root HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.handler
}

// registerAPIRoutes mounts the token-authenticated endpoints
func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	requireToken := auth.TokenMiddleware(s.tokens, s.logger)
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, requireToken(s.withSource(h)))
	}

	handle("GET /get", s.handleGet)
	handle("POST /set", s.handleSet)

	handle("GET /api/variables", s.handleListVariables)
	handle("POST /api/variables", s.handleCreateVariable)
	handle("GET /api/variables/{name}", s.handleGetVariable)
	handle("PUT /api/variables/{name}", s.handleUpdateVariable)
	handle("DELETE /api/variables/{name}", s.handleDeleteVariable)
	handle("PUT /api/variables/{name}/group", s.handleMoveVariable)
	handle("GET /api/variables/{name}/history", s.handleVariableHistory)

	handle("GET /api/groups", s.handleListGroups)
	handle("POST /api/groups", s.handleCreateGroup)
	handle("PUT /api/groups/{id}", s.handleRenameGroup)
	handle("DELETE /api/groups/{id}", s.handleDeleteGroup)

	handle("GET /api/history", s.handleHistory)
}

// withSource records the caller's address on the request context so history
// entries carry it
func (s *Server) withSource(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := auth.ClientAddr(r, s.config.Server.TrustProxy)
		next(w, r.WithContext(vars.WithSource(r.Context(), addr)))
	}
}

// guardSensitivePaths answers 403 for the data file names
func (s *Server) guardSensitivePaths(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sensitivePaths[strings.ToLower(r.URL.Path)] {
			s.logger.Warn("blocked request for sensitive path",
				"path", r.URL.Path,
				"ip", auth.ClientAddr(r, s.config.Server.TrustProxy),
			)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// setupTCPListener creates the plain TCP listener for HTTP.
func (s *Server) setupTCPListener() (net.Listener, error) {
	s.logger.Info("starting valueapi", "http_addr", s.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", s.config.Server.HTTPAddr,
			)
		}
		return s.setupTailscaleListener(ctx)
	}
	return s.setupTCPListener()
}

// startServer serves HTTP in a goroutine, returning the error channel.
func (s *Server) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		return err
	}
}

// Run serves until ctx is canceled or the HTTP server fails, then shuts down.
// Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := s.startServer(ln)
	serverErr := s.waitForShutdownSignal(ctx, errCh)

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout, since
// the run context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key in config or the TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens on port 80 of the node.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	if err := os.MkdirAll(tsCfg.StateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       tsCfg.StateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", tsCfg.StateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := s.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases every component.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down valueapi")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}

	s.webAdmin.Close()
	s.guard.Close()
	errs = appendCloseError(errs, "store close", s.backend.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
