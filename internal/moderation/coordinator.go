// ABOUTME: Handshake coordinator for signing in to the moderation popup
// ABOUTME: Drives open, closed-flag polling, and the signal protocol to one outcome

package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultWindowName is the window group the popup opens in, so repeated
	// attempts reuse the same popup slot.
	DefaultWindowName = "moderation"

	// DefaultPollInterval is how often the popup's closed flag is sampled.
	DefaultPollInterval = 100 * time.Millisecond
)

// Popup is a handle to a browsing context opened by an Opener. The coordinator
// does not own it; it only reads Closed, sends messages, and may close it.
type Popup interface {
	Closed() bool
	Close() error
	PostMessage(ctx context.Context, data any, targetOrigin string) error
}

// Opener opens a popup at url in the named window group. A nil Popup or an
// error means the platform refused to open it.
type Opener interface {
	Open(ctx context.Context, url, windowName string) (Popup, error)
}

// MessageSource delivers inbound messages until ctx is cancelled.
type MessageSource interface {
	Subscribe(ctx context.Context) <-chan Message
}

// Message is one inbound cross-window message.
type Message struct {
	Origin string
	Source Popup // nil when the sender is not a known popup
	Data   json.RawMessage
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithWindowName overrides DefaultWindowName.
func WithWindowName(name string) Option {
	return func(c *Coordinator) {
		if name != "" {
			c.windowName = name
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Coordinator runs moderation sign-in handshakes. It holds no per-attempt
// state, so one Coordinator can serve concurrent, independent attempts.
type Coordinator struct {
	opener       Opener
	messages     MessageSource
	windowName   string
	pollInterval time.Duration
	newTicker    func(time.Duration) (<-chan time.Time, func())
	logger       *slog.Logger
}

// NewCoordinator creates a coordinator that opens popups with opener and
// listens for their messages on messages.
func NewCoordinator(opener Opener, messages MessageSource, opts ...Option) *Coordinator {
	c := &Coordinator{
		opener:       opener,
		messages:     messages,
		windowName:   DefaultWindowName,
		pollInterval: DefaultPollInterval,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "moderation")
	return c
}

// Open runs one sign-in attempt and blocks until it settles.
//
// Soft outcomes (ResultOK, ResultCantOpen, ResultClosed) return a nil error.
// A message that is not a known signal returns a *ValidationError, a
// missing-config signal returns ErrMissingConfig, and cancelling ctx returns
// ctx.Err().
func (c *Coordinator) Open(ctx context.Context, cfg SessionConfig) (Result, error) {
	if err := cfg.Validate(); err != nil {
		c.logger.Error("invalid moderation session config", "error", err)
		return "", fmt.Errorf("invalid session config: %w", err)
	}
	origin, err := cfg.Origin()
	if err != nil {
		c.logger.Error("invalid moderation session config", "error", err)
		return "", fmt.Errorf("invalid session config: %w", err)
	}

	logger := c.logger.With("instance", origin)

	popup, err := c.opener.Open(ctx, cfg.InstanceURL, c.windowName)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Warn("failed to open moderation popup", "error", err)
		return ResultCantOpen, nil
	}
	if popup == nil || popup.Closed() {
		logger.Warn("moderation popup was blocked or closed immediately")
		return ResultCantOpen, nil
	}

	// One cancel detaches both the closed-flag poll and the subscription.
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	closed := c.pollClosed(attemptCtx, popup)
	inbound := c.messages.Subscribe(attemptCtx)

	h := &handshake{
		popup:       popup,
		origin:      origin,
		credentials: cfg.Credentials(),
		logger:      logger,
	}
	logger.Info("moderation sign-in started", "session", cfg)

	for {
		select {
		case <-ctx.Done():
			h.settle()
			return "", ctx.Err()

		case <-closed:
			// Messages the popup sent before it closed still count.
			h.popupClosed = true
			if done, result, err := h.drain(attemptCtx, inbound); done {
				return c.finish(logger, result, err)
			}
			h.settle()
			logger.Info("moderation popup closed before sign-in finished")
			return ResultClosed, nil

		case msg, ok := <-inbound:
			if !ok {
				// The source is gone; only the closed poll can settle now.
				inbound = nil
				continue
			}
			if done, result, err := h.handle(attemptCtx, msg); done {
				return c.finish(logger, result, err)
			}
		}
	}
}

func (c *Coordinator) finish(logger *slog.Logger, result Result, err error) (Result, error) {
	if err != nil {
		logger.Error("moderation sign-in failed", "error", err)
	} else {
		logger.Info("moderation sign-in finished", "result", string(result))
	}
	return result, err
}

// pollClosed samples popup.Closed on every tick and closes the returned
// channel the first time it reports true. The ticker stops when ctx ends.
func (c *Coordinator) pollClosed(ctx context.Context, popup Popup) <-chan struct{} {
	closed := make(chan struct{})
	ticks, stop := c.newTicker(c.pollInterval)

	go func() {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticks:
				if popup.Closed() {
					close(closed)
					return
				}
			}
		}
	}()

	return closed
}

type handshakeState int

const (
	stateAwaitingLoaded handshakeState = iota
	stateCredentialsSent
	stateSettled
)

func (s handshakeState) String() string {
	switch s {
	case stateAwaitingLoaded:
		return "awaiting-loaded-or-closed"
	case stateCredentialsSent:
		return "credentials-sent-awaiting-auth"
	case stateSettled:
		return "settled"
	default:
		return fmt.Sprintf("handshakeState(%d)", int(s))
	}
}

// handshake is the per-attempt state machine. It is only touched by the
// goroutine running Coordinator.Open.
type handshake struct {
	popup       Popup
	origin      string
	credentials Credentials
	state       handshakeState
	popupClosed bool
	logger      *slog.Logger
}

func (h *handshake) settle() {
	h.state = stateSettled
}

// drain handles messages already queued on inbound without waiting for more.
func (h *handshake) drain(ctx context.Context, inbound <-chan Message) (bool, Result, error) {
	if inbound == nil {
		return false, "", nil
	}
	for {
		select {
		case msg, ok := <-inbound:
			if !ok {
				return false, "", nil
			}
			if done, result, err := h.handle(ctx, msg); done {
				return true, result, err
			}
		default:
			return false, "", nil
		}
	}
}

// handle applies one inbound message and reports whether the attempt settled.
func (h *handshake) handle(ctx context.Context, msg Message) (bool, Result, error) {
	if h.state == stateSettled {
		return false, "", nil
	}
	if msg.Origin != h.origin {
		h.logger.Debug("ignoring message from unexpected origin", "origin", msg.Origin)
		return false, "", nil
	}
	if msg.Source != h.popup {
		h.logger.Debug("ignoring message from unexpected window")
		return false, "", nil
	}

	signal, err := ParseSignal(msg.Data)
	if err != nil {
		h.settle()
		return true, "", err
	}

	switch signal {
	case SignalMissingConfig:
		h.settle()
		if err := h.popup.Close(); err != nil {
			h.logger.Warn("failed to close moderation popup", "error", err)
		}
		return true, "", ErrMissingConfig

	case SignalLoaded:
		if h.state == stateCredentialsSent {
			h.logger.Debug("ignoring repeated loaded signal")
			return false, "", nil
		}
		if h.popupClosed {
			h.logger.Debug("ignoring loaded signal from closed popup")
			return false, "", nil
		}
		if err := h.popup.PostMessage(ctx, h.credentials, h.origin); err != nil {
			h.settle()
			return true, "", fmt.Errorf("sending credentials to moderation popup: %w", err)
		}
		h.state = stateCredentialsSent
		h.logger.Debug("sent credentials to moderation popup")
		return false, "", nil

	case SignalAuthenticated:
		h.settle()
		return true, ResultOK, nil

	default:
		panic(fmt.Sprintf("moderation: unhandled signal %q", signal))
	}
}
