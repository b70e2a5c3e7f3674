// ABOUTME: Websocket-backed popup opener and message source for the console page
// ABOUTME: Lets the moderation coordinator drive a browser popup from the server

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/coven-console/internal/moderation"
)

const (
	readTimeout          = 60 * time.Second
	writeTimeout         = 10 * time.Second
	heartbeatInterval    = 30 * time.Second
	maxInboundMessageLen = 64 << 10 // 64 KiB

	// subscriberBufferSize matches the broadcaster's per-subscriber buffer.
	subscriberBufferSize = 64
)

var (
	// ErrClosed is returned when the console page has disconnected.
	ErrClosed = errors.New("relay connection closed")

	// ErrPopupBlocked is returned when the page could not open the popup.
	ErrPopupBlocked = errors.New("popup blocked by browser")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CheckOrigin is left nil so only same-origin pages can connect.
}

// Conn is one console page's relay connection. It implements
// moderation.Opener and moderation.MessageSource.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending map[string]chan *Popup
	popups  map[string]*Popup
	current *Popup
	subs    map[string]chan moderation.Message
	backlog []moderation.Message
}

var (
	_ moderation.Opener        = (*Conn)(nil)
	_ moderation.MessageSource = (*Conn)(nil)
	_ moderation.Popup         = (*Popup)(nil)
)

// Upgrade upgrades an HTTP request to a relay connection and starts reading
// from it. Cross-origin upgrades are rejected.
func Upgrade(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrading relay connection: %w", err)
	}
	return Serve(ws, logger), nil
}

// Serve wraps an established websocket and starts its read loop and heartbeat.
func Serve(ws *websocket.Conn, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		ws:      ws,
		logger:  logger.With("component", "relay"),
		closed:  make(chan struct{}),
		pending: make(map[string]chan *Popup),
		popups:  make(map[string]*Popup),
		subs:    make(map[string]chan moderation.Message),
	}

	ws.SetReadLimit(maxInboundMessageLen)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go c.readLoop()
	go c.heartbeat()
	return c
}

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Close tears down the connection. It is safe to call multiple times.
func (c *Conn) Close() error {
	c.cleanup(ErrClosed)
	return nil
}

// Open asks the page to open a popup. ErrPopupBlocked means the browser
// refused.
func (c *Conn) Open(ctx context.Context, url, windowName string) (moderation.Popup, error) {
	id := uuid.NewString()
	reply := make(chan *Popup, 1)

	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(Frame{Type: FrameOpen, ID: id, URL: url, Name: windowName}); err != nil {
		return nil, err
	}

	var p *Popup
	select {
	case p = <-reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		// The reply may have been read just before the socket dropped.
		select {
		case p = <-reply:
		default:
			return nil, ErrClosed
		}
	}

	if p == nil {
		return nil, ErrPopupBlocked
	}
	return p, nil
}

// Subscribe returns a channel of popup messages. Messages that arrived since
// the latest popup opened, while nobody was subscribed, are delivered first. The subscription ends, and the
// channel closes, when ctx is cancelled or the connection goes away.
func (c *Conn) Subscribe(ctx context.Context) <-chan moderation.Message {
	subID := uuid.NewString()
	ch := make(chan moderation.Message, subscriberBufferSize)

	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		close(ch)
		return ch
	default:
	}
	for _, msg := range c.backlog {
		ch <- msg
	}
	c.backlog = nil
	c.subs[subID] = ch
	c.mu.Unlock()

	c.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		select {
		case <-ctx.Done():
		case <-c.closed:
		}
		c.unsubscribe(subID)
	}()

	return ch
}

// SendResult reports a settled handshake to the page.
func (c *Conn) SendResult(result moderation.Result) error {
	return c.send(Frame{Type: FrameResult, Result: string(result)})
}

// SendError reports a failed handshake to the page.
func (c *Conn) SendError(err error) error {
	return c.send(Frame{Type: FrameError, Error: err.Error()})
}

func (c *Conn) unsubscribe(subID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.subs[subID]
	if !ok {
		return
	}
	delete(c.subs, subID)
	close(ch)

	c.logger.Debug("subscriber removed", "sub_id", subID)
}

func (c *Conn) send(frame Frame) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := c.ws.WriteJSON(frame); err != nil {
		return fmt.Errorf("writing %s frame: %w", frame.Type, err)
	}
	return nil
}

func (c *Conn) readLoop() {
	for {
		var frame Frame
		if err := c.ws.ReadJSON(&frame); err != nil {
			c.cleanup(err)
			return
		}
		c.dispatch(frame)
	}
}

func (c *Conn) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.cleanup(err)
				return
			}
		}
	}
}

func (c *Conn) dispatch(frame Frame) {
	switch frame.Type {
	case FrameOpened, FrameOpenFailed:
		c.mu.Lock()
		reply, ok := c.pending[frame.ID]
		var p *Popup
		if ok && frame.Type == FrameOpened {
			// Registered here, in read order, so messages that follow the
			// opened frame are attributed to this popup.
			p = &Popup{conn: c, id: frame.ID}
			c.popups[frame.ID] = p
			c.current = p
			// Anything buffered so far predates this popup.
			c.backlog = nil
		}
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("open reply for unknown request", "popup_id", frame.ID)
			return
		}
		if p != nil {
			c.logger.Debug("popup opened", "popup_id", p.id)
		}
		select {
		case reply <- p:
		default:
		}

	case FrameClosed:
		c.mu.Lock()
		p := c.popups[frame.ID]
		if p == nil && frame.ID == "" {
			p = c.current
		}
		c.mu.Unlock()
		if p != nil {
			p.closed.Store(true)
			c.logger.Debug("popup closed", "popup_id", p.id)
		}

	case FrameMessage:
		c.publish(frame)

	default:
		c.logger.Debug("ignoring unknown frame", "type", frame.Type)
	}
}

// publish fans a message frame out to every subscriber without blocking the
// read loop.
func (c *Conn) publish(frame Frame) {
	msg := moderation.Message{
		Origin: frame.Origin,
		Data:   frame.Data,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if frame.FromPopup && c.current != nil {
		msg.Source = c.current
	}

	if len(c.subs) == 0 {
		if len(c.backlog) < subscriberBufferSize {
			c.backlog = append(c.backlog, msg)
		} else {
			c.logger.Warn("dropped message with no subscriber")
		}
		return
	}

	for subID, ch := range c.subs {
		select {
		case ch <- msg:
		default:
			c.logger.Warn("dropped message for slow subscriber", "sub_id", subID)
		}
	}
}

func (c *Conn) cleanup(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.closed)
		for _, p := range c.popups {
			p.closed.Store(true)
		}
		for subID, ch := range c.subs {
			close(ch)
			delete(c.subs, subID)
		}
		c.mu.Unlock()

		_ = c.ws.Close()

		var closeErr *websocket.CloseError
		if errors.Is(cause, ErrClosed) || errors.As(cause, &closeErr) {
			c.logger.Debug("relay connection closed", "reason", cause)
		} else {
			c.logger.Warn("relay connection lost", "error", cause)
		}
	})
}

// Popup is a browser popup opened through a Conn. Its closed flag follows
// the page's reports; once the connection drops it reads as closed.
type Popup struct {
	conn   *Conn
	id     string
	closed atomic.Bool
}

// ID returns the id the page uses for this popup.
func (p *Popup) ID() string {
	return p.id
}

// Closed reports whether the popup is known to be closed.
func (p *Popup) Closed() bool {
	return p.closed.Load()
}

// Close asks the page to close the popup.
func (p *Popup) Close() error {
	p.closed.Store(true)
	return p.conn.send(Frame{Type: FrameClose, ID: p.id})
}

// PostMessage asks the page to post data to the popup, restricted to
// targetOrigin.
func (p *Popup) PostMessage(_ context.Context, data any, targetOrigin string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding popup message: %w", err)
	}
	return p.conn.send(Frame{Type: FramePost, ID: p.id, Data: raw, TargetOrigin: targetOrigin})
}
