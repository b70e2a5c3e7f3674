// ABOUTME: Builds moderation session configs from the bot's Matrix account
// ABOUTME: Uses mautrix whoami to confirm the access token and find the device ID

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-console/internal/moderation"
)

var (
	// ErrUserMismatch is returned when the access token belongs to a different
	// user than the configured one.
	ErrUserMismatch = errors.New("access token belongs to a different user")

	// ErrNoDevice is returned when neither the config nor the homeserver
	// supplies a device ID.
	ErrNoDevice = errors.New("matrix device id is unknown; set matrix.device_id")
)

// whoamiTimeout bounds one shared homeserver lookup, independent of callers.
const whoamiTimeout = 15 * time.Second

// Config describes the bot account handed to the moderation interface.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	DeviceID    string
	// Hostname defaults to the server part of UserID.
	Hostname string
}

// Resolver turns the bot's Matrix account into a moderation.SessionConfig.
type Resolver struct {
	cfg         Config
	instanceURL string
	client      *mautrix.Client
	logger      *slog.Logger

	// whoami collapses concurrent lookups into one homeserver request.
	whoami singleflight.Group
}

// NewResolver creates a resolver for the given account and moderation
// instance. No network calls are made until Resolve.
func NewResolver(cfg Config, instanceURL string, logger *slog.Logger) (*Resolver, error) {
	if cfg.Homeserver == "" {
		return nil, fmt.Errorf("matrix homeserver is required")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("matrix access token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	return &Resolver{
		cfg:         cfg,
		instanceURL: instanceURL,
		client:      client,
		logger:      logger.With("component", "matrix"),
	}, nil
}

// Resolve confirms the access token with the homeserver and returns a fresh
// session config for one sign-in attempt.
func (r *Resolver) Resolve(ctx context.Context) (moderation.SessionConfig, error) {
	// The lookup outlives any single caller; each caller only waits on its own ctx.
	lookup := r.whoami.DoChan("whoami", func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), whoamiTimeout)
		defer cancel()
		return r.client.Whoami(lookupCtx)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return moderation.SessionConfig{}, fmt.Errorf("verifying matrix access token: %w", ctx.Err())
	case res = <-lookup:
	}
	if res.Err != nil {
		return moderation.SessionConfig{}, fmt.Errorf("verifying matrix access token: %w", res.Err)
	}
	resp := res.Val.(*mautrix.RespWhoami)
	shared := res.Shared

	userID := resp.UserID
	if r.cfg.UserID != "" && id.UserID(r.cfg.UserID) != userID {
		return moderation.SessionConfig{}, fmt.Errorf("%w: configured %s, homeserver says %s", ErrUserMismatch, r.cfg.UserID, userID)
	}

	deviceID := r.cfg.DeviceID
	if deviceID == "" {
		deviceID = string(resp.DeviceID)
	}
	if deviceID == "" {
		return moderation.SessionConfig{}, ErrNoDevice
	}

	hostname := r.cfg.Hostname
	if hostname == "" {
		_, server, err := userID.Parse()
		if err != nil {
			return moderation.SessionConfig{}, fmt.Errorf("parsing user id %q: %w", userID, err)
		}
		hostname = server
	}

	r.logger.Debug("resolved moderation session", "user_id", userID.String(), "device_id", deviceID, "shared", shared)

	return moderation.SessionConfig{
		InstanceURL: r.instanceURL,
		Hostname:    hostname,
		UserID:      userID.String(),
		AccessToken: r.cfg.AccessToken,
		DeviceID:    deviceID,
	}, nil
}
