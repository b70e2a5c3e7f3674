// Package console wires the coven-console server together.
//
// A Console owns one HTTP server carrying:
//
//   - GET /health         liveness
//   - GET /health/ready   homeserver accepts the bot's access token
//   - /admin/...          the web UI (see package webadmin)
//
// Run listens on server.http_addr and shuts down gracefully when its context
// is cancelled. Shutdown also cancels the base request context so relay
// websocket handlers, which the HTTP server no longer tracks after the
// upgrade, end with it.
package console
