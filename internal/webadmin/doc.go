// Package webadmin provides the coven-console web interface.
//
// # Overview
//
// The console is a single operator page for signing the moderation instance
// in to the bot's Matrix account:
//
//   - Login: admin password checked against a bcrypt hash
//   - Moderation: instance URL, bot identity, recovery passphrase with copy
//     button, and the sign-in button
//   - Relay: websocket the page uses to run the popup handshake
//
// # Routes
//
//	GET  /admin/login              login form
//	POST /admin/login              password check, sets the session cookie
//	POST /admin/logout             clears session and CSRF cookies
//	GET  /admin/moderation         moderation page (auth)
//	GET  /admin/moderation/relay   websocket relay (auth)
//
// # Sign-in flow
//
// The sign-in button opens the popup inside the click handler, then dials the
// relay. The server resolves the bot session (see package matrix), runs one
// moderation.Coordinator attempt over the relay connection, and reports the
// outcome as a result or error frame. Soft outcomes ("cant open", "closed")
// render as warnings; hard errors show the error text.
//
// # CSRF Protection
//
// Form submissions carry a CSRF token that must match the CSRF cookie:
//
//	<input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
//
// The relay websocket relies on the upgrader's same-origin check and the
// SameSite=Strict session cookie.
package webadmin
