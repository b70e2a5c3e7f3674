// Package moderation signs the console's bot account in to an external
// moderation web interface through a popup window handshake.
//
// # Overview
//
// The moderation interface runs on its own origin (the "instance"). The console
// opens it in a popup, waits for the popup to announce it has loaded, hands it
// the bot's Matrix session, and waits for it to confirm the sign-in:
//
//	console                               popup (instance origin)
//	   | open(instance_url, "moderation")     |
//	   |------------------------------------->|
//	   |                     "loaded"         |
//	   |<-------------------------------------|
//	   | {hostname,userId,accessToken,deviceId}
//	   |------------------------------------->|
//	   |                  "authenticated"     |
//	   |<-------------------------------------|
//
// The popup may instead send "missing-config" when the instance itself is not
// set up, in which case the console closes the popup and fails the attempt.
//
// # Outcomes
//
// Coordinator.Open settles exactly once per call:
//
//   - ResultOK: the popup confirmed the sign-in
//   - ResultCantOpen: the popup was blocked or closed immediately
//   - ResultClosed: the operator closed the popup before it finished
//   - *ValidationError: the popup sent something other than a known signal
//   - ErrMissingConfig: the instance reported missing configuration
//
// # Collaborators
//
// The coordinator never touches a browser directly. It drives three narrow
// interfaces:
//
//   - Opener opens the popup and returns a Popup handle
//   - Popup reports its closed flag, accepts outbound messages, and can be closed
//   - MessageSource delivers inbound messages until its context is cancelled
//
// The relay package implements them over a websocket to the console page;
// tests implement them with in-memory fakes.
//
// # Cancellation
//
// Each attempt derives one context for its lifetime. The closed-flag poll and
// the message subscription both hang off it, so settling the attempt stops
// both at once. There is no built-in timeout: an attempt stays pending until
// the popup settles it, the operator closes the popup, or the caller's context
// ends.
package moderation
