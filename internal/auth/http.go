// ABOUTME: HTTP middleware for console session cookies
// ABOUTME: Verifies the session JWT and adds the operator to the request context

package auth

import (
	"net/http"
	"strings"
	"time"
)

// SessionCookieName is the cookie holding the console session token.
const SessionCookieName = "coven_console_session"

// RequireSession creates an HTTP middleware that only lets requests with a
// valid session cookie through. Page loads are redirected to loginPath; API
// and websocket requests get a 401.
func RequireSession(verifier TokenVerifier, loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				reject(w, r, loginPath)
				return
			}

			operator, err := verifier.Verify(cookie.Value)
			if err != nil {
				ClearSessionCookie(w, r)
				reject(w, r, loginPath)
				return
			}

			ctx := WithOperator(r.Context(), &Operator{Name: operator})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SetSessionCookie stores a session token on the response.
func SetSessionCookie(w http.ResponseWriter, r *http.Request, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/admin",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie removes the session cookie.
func ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/admin",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

func reject(w http.ResponseWriter, r *http.Request, loginPath string) {
	if r.Method == http.MethodGet && !isWebsocketUpgrade(r) {
		http.Redirect(w, r, loginPath, http.StatusSeeOther)
		return
	}
	http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
