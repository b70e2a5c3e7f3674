// ABOUTME: JSON frames exchanged between the console page and the relay
// ABOUTME: One websocket carries popup commands down and popup events up

package relay

import "encoding/json"

// Frame types sent from the server to the console page.
const (
	FrameOpen   = "open"   // open the popup: id, url, name
	FramePost   = "post"   // postMessage to the popup: id, data, target_origin
	FrameClose  = "close"  // close the popup: id
	FrameResult = "result" // handshake finished: result
	FrameError  = "error"  // handshake failed: error
)

// Frame types sent from the console page to the server.
const (
	FrameOpened     = "opened"      // popup opened: id
	FrameOpenFailed = "open_failed" // window.open returned null or a closed window: id
	FrameClosed     = "closed"      // popup.closed became true: id
	FrameMessage    = "message"     // message event: origin, from_popup, data
)

// Frame is the single wire shape for both directions. Fields that do not
// apply to a frame type are omitted.
type Frame struct {
	Type         string          `json:"type"`
	ID           string          `json:"id,omitempty"`
	URL          string          `json:"url,omitempty"`
	Name         string          `json:"name,omitempty"`
	Origin       string          `json:"origin,omitempty"`
	TargetOrigin string          `json:"target_origin,omitempty"`
	FromPopup    bool            `json:"from_popup,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Result       string          `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}
