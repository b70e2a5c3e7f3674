// Package auth provides operator authentication for coven-console.
//
// # Sessions
//
// Operators sign in with the admin password configured as a bcrypt hash:
//
//	auth:
//	  admin_password_hash: "$2a$10$..."   # from `coven-console hash-password`
//	  jwt_secret: "${COVEN_CONSOLE_JWT_SECRET}"
//	  session_ttl: "12h"
//
// A successful login mints an HS256 JWT (sub = operator name, typ =
// console_session) and stores it in an HttpOnly, SameSite=Strict cookie
// scoped to /admin.
//
// # Middleware
//
//	mux.Handle("GET /admin/moderation", auth.RequireSession(verifier, "/admin/login")(handler))
//
// RequireSession redirects page loads to the login page and answers API and
// websocket requests with 401. Handlers read the operator with FromContext.
package auth
