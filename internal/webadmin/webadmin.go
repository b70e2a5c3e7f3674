// ABOUTME: Console web UI package for coven-console
// ABOUTME: Provides operator login, CSRF handling, and route registration

package webadmin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/coven-console/internal/auth"
	"github.com/2389/coven-console/internal/moderation"
)

const (
	// CSRFCookieName is the name of the CSRF token cookie
	CSRFCookieName = "coven_console_csrf"

	// OperatorName is the session subject for the single console operator
	OperatorName = "admin"

	loginPath      = "/admin/login"
	moderationPath = "/admin/moderation"
	relayPath      = "/admin/moderation/relay"
)

// Config holds console UI configuration
type Config struct {
	// InstanceURL is the moderation instance shown on the page
	InstanceURL string
	// WindowName is the popup window group name
	WindowName string
	// PollInterval controls how often the popup's closed flag is sampled
	PollInterval time.Duration

	// BotUserID is the Matrix account the moderation instance signs in as
	BotUserID string
	// RecoveryKey is the passphrase displayed with a copy button
	RecoveryKey string

	AdminPasswordHash string
	SessionTTL        time.Duration
}

// SessionResolver produces the credentials handed to the moderation popup.
type SessionResolver interface {
	Resolve(ctx context.Context) (moderation.SessionConfig, error)
}

// SessionIssuer mints and verifies operator session tokens.
type SessionIssuer interface {
	auth.TokenVerifier
	Generate(operator string, expiresIn time.Duration) (string, error)
}

// Admin handles console UI routes and authentication
type Admin struct {
	resolver SessionResolver
	sessions SessionIssuer
	config   Config
	guidance template.HTML
	logger   *slog.Logger
}

// New creates a new Admin handler
func New(resolver SessionResolver, sessions SessionIssuer, cfg Config) (*Admin, error) {
	if cfg.WindowName == "" {
		cfg.WindowName = moderation.DefaultWindowName
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = moderation.DefaultPollInterval
	}

	guidance, err := renderGuidance()
	if err != nil {
		return nil, fmt.Errorf("rendering moderation guidance: %w", err)
	}

	return &Admin{
		resolver: resolver,
		sessions: sessions,
		config:   cfg,
		guidance: guidance,
		logger:   slog.Default().With("component", "admin"),
	}, nil
}

// RegisterRoutes registers all console routes on the given mux
func (a *Admin) RegisterRoutes(mux *http.ServeMux) {
	// Public routes (no auth required)
	mux.HandleFunc("GET "+loginPath, a.handleLoginPage)
	mux.HandleFunc("POST "+loginPath, a.handleLogin)

	// Protected routes (auth required)
	mux.Handle("GET /admin", a.requireAuth(http.HandlerFunc(a.handleIndex)))
	mux.Handle("GET /admin/{$}", a.requireAuth(http.HandlerFunc(a.handleIndex)))
	mux.Handle("POST /admin/logout", a.requireAuth(http.HandlerFunc(a.handleLogout)))
	mux.Handle("GET "+moderationPath, a.requireAuth(http.HandlerFunc(a.handleModerationPage)))
	mux.Handle("GET "+relayPath, a.requireAuth(http.HandlerFunc(a.handleRelay)))

	a.logger.Info("admin routes registered")
}

// requireAuth wraps a handler to require a valid session cookie
func (a *Admin) requireAuth(next http.Handler) http.Handler {
	return auth.RequireSession(a.sessions, loginPath)(next)
}

// ensureCSRFToken returns the request's CSRF token, issuing a new cookie if absent
func (a *Admin) ensureCSRFToken(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(CSRFCookieName)
	if err == nil && cookie.Value != "" {
		return cookie.Value
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
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})

	return token
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

// hasValidSession reports whether the request already carries a session
func (a *Admin) hasValidSession(r *http.Request) bool {
	cookie, err := r.Cookie(auth.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	_, err = a.sessions.Verify(cookie.Value)
	return err == nil
}

// handleLoginPage renders the login page
func (a *Admin) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if a.hasValidSession(r) {
		http.Redirect(w, r, moderationPath, http.StatusSeeOther)
		return
	}

	csrfToken := a.ensureCSRFToken(w, r)
	a.renderLoginPage(w, "", csrfToken)
}

// handleLogin processes login form submission
func (a *Admin) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		csrfToken := a.ensureCSRFToken(w, r)
		a.renderLoginPage(w, "Invalid form data", csrfToken)
		return
	}

	if !a.validateCSRF(r) {
		csrfToken := a.ensureCSRFToken(w, r)
		a.renderLoginPage(w, "Invalid request, please try again", csrfToken)
		return
	}

	password := r.FormValue("password")
	if password == "" {
		csrfToken := a.ensureCSRFToken(w, r)
		a.renderLoginPage(w, "Password required", csrfToken)
		return
	}

	if err := auth.CheckPassword(a.config.AdminPasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrWrongPassword) {
			a.logger.Error("failed to check password", "error", err)
		} else {
			a.logger.Warn("admin login failed", "remote_addr", r.RemoteAddr)
		}
		csrfToken := a.ensureCSRFToken(w, r)
		a.renderLoginPage(w, "Invalid password", csrfToken)
		return
	}

	token, err := a.sessions.Generate(OperatorName, a.config.SessionTTL)
	if err != nil {
		a.logger.Error("failed to create session", "error", err)
		csrfToken := a.ensureCSRFToken(w, r)
		a.renderLoginPage(w, "An error occurred", csrfToken)
		return
	}
	auth.SetSessionCookie(w, r, token, a.config.SessionTTL)

	a.logger.Info("admin login successful", "operator", OperatorName)
	http.Redirect(w, r, moderationPath, http.StatusSeeOther)
}

// handleLogout logs out the current operator
func (a *Admin) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err == nil {
		// Logout still proceeds with a bad token; it only removes access.
		if !a.validateCSRF(r) {
			a.logger.Warn("logout request with invalid CSRF token")
		}
	}

	auth.ClearSessionCookie(w, r)
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    "",
		Path:     "/admin",
		MaxAge:   -1,
		HttpOnly: true,
	})

	http.Redirect(w, r, loginPath, http.StatusSeeOther)
}

func (a *Admin) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, moderationPath, http.StatusSeeOther)
}

// generateSecureToken generates a cryptographically secure random token
func generateSecureToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
