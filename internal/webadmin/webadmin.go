// ABOUTME: Admin web UI package for valueapi management
// ABOUTME: Provides password login, session cookies, CSRF protection, and admin routes

package webadmin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/valueapi/internal/auth"
	"github.com/2389/valueapi/internal/loginguard"
	"github.com/2389/valueapi/internal/session"
	"github.com/2389/valueapi/internal/store"
	"github.com/2389/valueapi/internal/tokens"
	"github.com/2389/valueapi/internal/vars"
)

const (
	// SessionCookieName is the name of the session cookie
	SessionCookieName = "valueapi_admin_session"

	// CSRFCookieName is the name of the CSRF token cookie
	CSRFCookieName = "valueapi_admin_csrf"
)

// dummyHash keeps the timing of a rejected login close to a real bcrypt check
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const csrfContextKey contextKey = "csrf_token"

// Config holds everything the admin UI needs
type Config struct {
	Vars     *vars.Service
	Tokens   *tokens.Registry
	Sessions *session.Manager
	Guard    *loginguard.Guard

	// Password is hashed with bcrypt at construction. PasswordHash, a bcrypt
	// hash, is used instead when set.
	Password     string
	PasswordHash string

	// CookieSecure forces the Secure flag on cookies even without TLS, for
	// deployments behind a TLS-terminating proxy
	CookieSecure bool

	// TrustProxy makes X-Forwarded-For the recorded client address
	TrustProxy bool

	Logger *slog.Logger
}

// Admin serves the admin UI
type Admin struct {
	vars         *vars.Service
	tokens       *tokens.Registry
	sessions     *session.Manager
	guard        *loginguard.Guard
	passwordHash []byte
	cookieSecure bool
	trustProxy   bool
	logger       *slog.Logger
}

// New creates the admin UI. It fails if no usable password is configured.
func New(cfg Config) (*Admin, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hash := cfg.PasswordHash
	if hash == "" {
		if cfg.Password == "" {
			return nil, errors.New("admin password is required")
		}
		h, err := HashPassword(cfg.Password)
		if err != nil {
			return nil, err
		}
		hash = h
	} else if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("admin password hash is not a bcrypt hash: %w", err)
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sessions = session.NewManager()
	}

	return &Admin{
		vars:         cfg.Vars,
		tokens:       cfg.Tokens,
		sessions:     sessions,
		guard:        cfg.Guard,
		passwordHash: []byte(hash),
		cookieSecure: cfg.CookieSecure,
		trustProxy:   cfg.TrustProxy,
		logger:       logger.With("component", "webadmin"),
	}, nil
}

// HashPassword returns the bcrypt hash of a plain admin password
func HashPassword(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing admin password: %w", err)
	}
	return string(h), nil
}

// Close ends every admin session
func (a *Admin) Close() {
	a.sessions.Close()
}

// RegisterRoutes registers all admin routes on the given mux
func (a *Admin) RegisterRoutes(mux *http.ServeMux) {
	// Public routes (no auth required)
	mux.HandleFunc("GET /admin/login", a.handleLoginPage)
	mux.HandleFunc("POST /admin/login", a.handleLogin)
	mux.HandleFunc("GET /admin/logout", a.handleLogout)
	mux.HandleFunc("POST /admin/logout", a.handleLogout)

	// Variables
	mux.HandleFunc("GET /admin", a.requireAuth(a.handleVariablesPage))
	mux.HandleFunc("GET /admin/{$}", a.requireAuth(a.handleVariablesPage))
	mux.HandleFunc("POST /admin/variables/add", a.requireAuth(a.requireCSRF(a.handleVariableAdd)))
	mux.HandleFunc("POST /admin/variables/edit", a.requireAuth(a.requireCSRF(a.handleVariableEdit)))
	mux.HandleFunc("POST /admin/variables/delete", a.requireAuth(a.requireCSRF(a.handleVariableDelete)))
	mux.HandleFunc("POST /admin/variables/move", a.requireAuth(a.requireCSRF(a.handleVariableMove)))

	// Older form actions, kept for bookmarked pages
	mux.HandleFunc("POST /admin/add", a.requireAuth(a.requireCSRF(a.handleVariableAdd)))
	mux.HandleFunc("POST /admin/edit", a.requireAuth(a.requireCSRF(a.handleVariableEdit)))
	mux.HandleFunc("POST /admin/delete", a.requireAuth(a.requireCSRF(a.handleVariableDelete)))

	// Groups
	mux.HandleFunc("GET /admin/groups", a.requireAuth(a.handleGroupsPage))
	mux.HandleFunc("POST /admin/groups/add", a.requireAuth(a.requireCSRF(a.handleGroupAdd)))
	mux.HandleFunc("POST /admin/groups/rename", a.requireAuth(a.requireCSRF(a.handleGroupRename)))
	mux.HandleFunc("POST /admin/groups/delete", a.requireAuth(a.requireCSRF(a.handleGroupDelete)))

	// Tokens and settings
	mux.HandleFunc("GET /admin/tokens", a.requireAuth(a.handleTokensPage))
	mux.HandleFunc("POST /admin/tokens/add", a.requireAuth(a.requireCSRF(a.handleTokenAdd)))
	mux.HandleFunc("POST /admin/tokens/edit", a.requireAuth(a.requireCSRF(a.handleTokenEdit)))
	mux.HandleFunc("POST /admin/tokens/delete", a.requireAuth(a.requireCSRF(a.handleTokenDelete)))
	mux.HandleFunc("GET /admin/settings", a.requireAuth(a.handleSettingsPage))
	mux.HandleFunc("POST /admin/settings", a.requireAuth(a.requireCSRF(a.handleSettingsSave)))

	// History
	mux.HandleFunc("GET /admin/history", a.requireAuth(a.handleHistoryPage))

	a.logger.Info("admin routes registered")
}

// requireAuth wraps a handler to require a live admin session
func (a *Admin) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.authenticated(r) {
			http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
			return
		}
		ctx := vars.WithSource(r.Context(), auth.ClientAddr(r, a.trustProxy))
		next(w, r.WithContext(ctx))
	}
}

// requireCSRF rejects form posts whose CSRF token does not match the cookie
func (a *Admin) requireCSRF(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}
		if !a.validateCSRF(r) {
			a.logger.Warn("rejected admin form with invalid CSRF token", "path", r.URL.Path, "ip", a.clientAddr(r))
			http.Error(w, "invalid CSRF token, reload the page and try again", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (a *Admin) authenticated(r *http.Request) bool {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return false
	}
	return a.sessions.Valid(cookie.Value)
}

func (a *Admin) clientAddr(r *http.Request) string {
	return auth.ClientAddr(r, a.trustProxy)
}

func (a *Admin) secure(r *http.Request) bool {
	return a.cookieSecure || r.TLS != nil
}

// getCSRFToken retrieves the CSRF token from the request context
func getCSRFToken(r *http.Request) string {
	token, _ := r.Context().Value(csrfContextKey).(string)
	return token
}

// ensureCSRFToken generates a CSRF token if not present and adds it to context
func (a *Admin) ensureCSRFToken(w http.ResponseWriter, r *http.Request) (*http.Request, string) {
	cookie, err := r.Cookie(CSRFCookieName)
	if err == nil && cookie.Value != "" {
		ctx := context.WithValue(r.Context(), csrfContextKey, cookie.Value)
		return r.WithContext(ctx), cookie.Value
	}

	token, err := generateSecureToken(32)
	if err != nil {
		a.logger.Error("failed to generate CSRF token", "error", err)
		token = "" // Will fail validation, but won't crash
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/admin",
		HttpOnly: true,
		Secure:   a.secure(r),
		SameSite: http.SameSiteStrictMode,
	})

	ctx := context.WithValue(r.Context(), csrfContextKey, token)
	return r.WithContext(ctx), token
}

// validateCSRF checks the CSRF token from form against cookie
func (a *Admin) validateCSRF(r *http.Request) bool {
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}

	formToken := r.FormValue("csrf_token")
	if formToken == "" {
		formToken = r.Header.Get("X-CSRF-Token")
	}

	return formToken != "" && formToken == cookie.Value
}

// handleLoginPage renders the login page
func (a *Admin) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if a.authenticated(r) {
		http.Redirect(w, r, "/admin", http.StatusSeeOther)
		return
	}

	_, csrfToken := a.ensureCSRFToken(w, r)
	a.renderLoginPage(w, http.StatusOK, "", csrfToken)
}

// handleLogin processes login form submission
func (a *Admin) handleLogin(w http.ResponseWriter, r *http.Request) {
	addr := a.clientAddr(r)

	if err := r.ParseForm(); err != nil {
		_, csrfToken := a.ensureCSRFToken(w, r)
		a.renderLoginPage(w, http.StatusBadRequest, "Invalid form data", csrfToken)
		return
	}

	if !a.validateCSRF(r) {
		_, csrfToken := a.ensureCSRFToken(w, r)
		a.renderLoginPage(w, http.StatusForbidden, "Invalid request, please try again", csrfToken)
		return
	}

	if a.guard != nil && !a.guard.Allowed(addr) {
		wait := a.guard.RetryAfter(addr).Round(time.Second)
		a.logger.Warn("admin login throttled", "ip", addr, "retry_after", wait)
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(wait.Seconds())))
		_, csrfToken := a.ensureCSRFToken(w, r)
		a.renderLoginPage(w, http.StatusTooManyRequests,
			fmt.Sprintf("Too many failed attempts, try again in %s", wait), csrfToken)
		return
	}

	password := r.FormValue("password")
	if password == "" {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		_, csrfToken := a.ensureCSRFToken(w, r)
		a.renderLoginPage(w, http.StatusBadRequest, "Password required", csrfToken)
		return
	}

	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		failures := 0
		if a.guard != nil {
			failures = a.guard.Fail(addr)
		}
		a.logger.Warn("admin login failed", "ip", addr, "failures", failures)
		_, csrfToken := a.ensureCSRFToken(w, r)
		a.renderLoginPage(w, http.StatusUnauthorized, "Wrong password", csrfToken)
		return
	}

	sessionID, err := a.sessions.Create()
	if err != nil {
		a.logger.Error("failed to create session", "error", err)
		_, csrfToken := a.ensureCSRFToken(w, r)
		a.renderLoginPage(w, http.StatusInternalServerError, "An error occurred", csrfToken)
		return
	}
	if a.guard != nil {
		a.guard.Reset(addr)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/admin",
		HttpOnly: true,
		Secure:   a.secure(r),
		SameSite: http.SameSiteLaxMode,
	})

	a.logger.Info("admin login successful", "ip", addr)
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

// handleLogout ends the session. GET is accepted for plain logout links.
func (a *Admin) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		// Don't block logout on a bad CSRF token
		if err := r.ParseForm(); err == nil && !a.validateCSRF(r) {
			a.logger.Warn("logout request with invalid CSRF token")
		}
	}

	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		a.sessions.Destroy(cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/admin",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    "",
		Path:     "/admin",
		MaxAge:   -1,
		HttpOnly: true,
	})

	a.logger.Info("admin logout", "ip", a.clientAddr(r))
	http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
}

// redirectBack sends the browser to the form's return_to page (or fallback)
// with a flash message in the query string.
func redirectBack(w http.ResponseWriter, r *http.Request, fallback, key, message string) {
	target := r.FormValue("return_to")
	if !strings.HasPrefix(target, "/admin") || strings.HasPrefix(target, "//") {
		target = fallback
	}

	u, err := url.Parse(target)
	if err != nil {
		u = &url.URL{Path: fallback}
	}
	q := u.Query()
	q.Del("msg")
	q.Del("error")
	if message != "" {
		q.Set(key, message)
	}
	u.RawQuery = q.Encode()

	http.Redirect(w, r, u.String(), http.StatusSeeOther)
}

// userMessage turns a service error into text for the flash banner
func userMessage(err error) string {
	if errors.Is(err, store.ErrIO) {
		return "Saving failed, see the server log"
	}
	return err.Error()
}

// flash returns the msg and error query parameters set by redirectBack
func flash(r *http.Request) (msg, errMsg string) {
	q := r.URL.Query()
	return q.Get("msg"), q.Get("error")
}

// generateSecureToken generates a cryptographically secure random hex token
func generateSecureToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
