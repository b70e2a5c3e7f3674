// Package relay bridges the moderation handshake to a browser over a websocket.
//
// The console page cannot hand its popup to the server, so the page acts as
// the platform: it opens the popup when told to, posts messages into it, and
// forwards the popup's message events and closed flag back up the socket.
//
// Server to page:
//
//	{"type":"open","id":"…","url":"https://mod.example","name":"moderation"}
//	{"type":"post","id":"…","data":{…},"target_origin":"https://mod.example"}
//	{"type":"close","id":"…"}
//	{"type":"result","result":"ok"}
//	{"type":"error","error":"…"}
//
// Page to server:
//
//	{"type":"opened","id":"…"}
//	{"type":"open_failed","id":"…"}
//	{"type":"closed","id":"…"}
//	{"type":"message","origin":"https://mod.example","from_popup":true,"data":"loaded"}
//
// A Conn implements moderation.Opener and moderation.MessageSource, and the
// popups it opens implement moderation.Popup. Messages whose event source was
// not the popup arrive with a nil Source. When the socket drops, every popup
// reads as closed, which settles a pending handshake as closed.
package relay
