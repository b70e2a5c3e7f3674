// ABOUTME: Moderation page and relay websocket handlers
// ABOUTME: Runs one popup sign-in handshake per relay connection

package webadmin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/2389/coven-console/internal/auth"
	"github.com/2389/coven-console/internal/moderation"
	"github.com/2389/coven-console/internal/relay"
)

// resolveTimeout bounds the homeserver lookup before the popup opens.
const resolveTimeout = 15 * time.Second

// handleModerationPage renders the moderation sign-in page
func (a *Admin) handleModerationPage(w http.ResponseWriter, r *http.Request) {
	csrfToken := a.ensureCSRFToken(w, r)

	operator := ""
	if op := auth.FromContext(r.Context()); op != nil {
		operator = op.Name
	}

	a.renderModerationPage(w, moderationPageData{
		Title:       "Moderation",
		Operator:    operator,
		InstanceURL: a.config.InstanceURL,
		WindowName:  a.config.WindowName,
		BotUserID:   a.config.BotUserID,
		RecoveryKey: a.config.RecoveryKey,
		Guidance:    a.guidance,
		RelayPath:   relayPath,
		CSRFToken:   csrfToken,
	})
}

// handleRelay upgrades to a websocket and drives one moderation sign-in
// through the page. The outcome is reported as a result or error frame.
func (a *Admin) handleRelay(w http.ResponseWriter, r *http.Request) {
	operator := OperatorName
	if op := auth.FromContext(r.Context()); op != nil {
		operator = op.Name
	}
	logger := a.logger.With("operator", operator)

	conn, err := relay.Upgrade(w, r, logger)
	if err != nil {
		logger.Warn("relay upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	resolveCtx, cancel := context.WithTimeout(r.Context(), resolveTimeout)
	session, err := a.resolver.Resolve(resolveCtx)
	cancel()
	if err != nil {
		logger.Error("failed to resolve moderation session", "error", err)
		_ = conn.SendError(err)
		return
	}
	if session.InstanceURL == "" {
		session.InstanceURL = a.config.InstanceURL
	}

	coordinator := moderation.NewCoordinator(conn, conn,
		moderation.WithWindowName(a.config.WindowName),
		moderation.WithPollInterval(a.config.PollInterval),
		moderation.WithLogger(logger),
	)

	result, err := coordinator.Open(r.Context(), session)
	if err != nil {
		// The coordinator logs handshake failures; only interruptions are left.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Info("moderation sign-in interrupted", "error", err)
		}
		if sendErr := conn.SendError(err); sendErr != nil {
			logger.Debug("could not report error to page", "error", sendErr)
		}
		return
	}

	if err := conn.SendResult(result); err != nil {
		logger.Debug("could not report result to page", "error", err)
	}
}
