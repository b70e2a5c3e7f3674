// ABOUTME: Console orchestrator that wires config, auth, matrix and the web UI
// ABOUTME: Owns the HTTP server, health endpoints, and shutdown lifecycle

package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-console/internal/auth"
	"github.com/2389/coven-console/internal/config"
	"github.com/2389/coven-console/internal/matrix"
	"github.com/2389/coven-console/internal/webadmin"
)

const (
	shutdownTimeout = 5 * time.Second
	readyTimeout    = 5 * time.Second
)

// Console orchestrates the coven-console server components.
type Console struct {
	config     *config.Config
	httpServer *http.Server
	webAdmin   *webadmin.Admin
	resolver   *matrix.Resolver
	logger     *slog.Logger

	// baseCtx is the parent of every request context. Cancelling it ends
	// relay handlers, which outlive Shutdown once their connection is hijacked.
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New creates a new Console with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Console, error) {
	resolver, err := matrix.NewResolver(matrix.Config{
		Homeserver:  cfg.Matrix.Homeserver,
		UserID:      cfg.Matrix.UserID,
		AccessToken: cfg.Matrix.AccessToken,
		DeviceID:    cfg.Matrix.DeviceID,
		Hostname:    cfg.Matrix.Hostname,
	}, cfg.Moderation.InstanceURL, logger)
	if err != nil {
		return nil, fmt.Errorf("creating matrix resolver: %w", err)
	}

	sessions := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	admin, err := webadmin.New(resolver, sessions, webadmin.Config{
		InstanceURL:       cfg.Moderation.InstanceURL,
		WindowName:        cfg.Moderation.WindowName,
		PollInterval:      cfg.Moderation.PollInterval,
		BotUserID:         cfg.Matrix.UserID,
		RecoveryKey:       cfg.Matrix.RecoveryKey,
		AdminPasswordHash: cfg.Auth.AdminPasswordHash,
		SessionTTL:        cfg.Auth.SessionTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating web admin: %w", err)
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	c := &Console{
		config:     cfg,
		webAdmin:   admin,
		resolver:   resolver,
		logger:     logger.With("component", "console"),
		baseCtx:    baseCtx,
		cancelBase: cancelBase,
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", c.handleHealth)
	mux.HandleFunc("GET /health/ready", c.handleReady)

	admin.RegisterRoutes(mux)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/admin/moderation", http.StatusSeeOther)
	})

	c.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	return c, nil
}

// Run listens on the configured address and serves until ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", c.config.Server.HTTPAddr, err)
	}
	return c.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or the server fails, then shuts
// down gracefully.
func (c *Console) Serve(ctx context.Context, ln net.Listener) error {
	c.logger.Info("starting console", "http_addr", ln.Addr().String(), "base_url", c.config.Server.BaseURL)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		c.logger.Info("context canceled, initiating shutdown")
		return c.gracefulShutdown()
	})
	return g.Wait()
}

// gracefulShutdown uses a fresh context since the run context is already done.
func (c *Console) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// Shutdown stops the HTTP server and ends any running relay handlers.
func (c *Console) Shutdown(ctx context.Context) error {
	c.logger.Info("shutting down console")
	c.cancelBase()
	if err := c.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (c *Console) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the homeserver accepts the bot's access token.
func (c *Console) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	session, err := c.resolver.Resolve(ctx)
	if err != nil {
		c.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("matrix session unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%s)", session.UserID)
}
