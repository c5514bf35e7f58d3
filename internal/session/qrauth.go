package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ashureev/tgcapture/internal/domain"
	"github.com/ashureev/tgcapture/internal/qrcode"
)

// StatusPublisher receives login status transitions.
type StatusPublisher interface {
	Publish(st domain.LoginStatus)
}

// Authorizer drives the QR login flow of one connection to a terminal state.
// A failed run is not retried: the challenge token is single-use, so a new
// run must request a fresh one.
type Authorizer struct {
	status   StatusPublisher
	renderer qrcode.Renderer
	logger   *slog.Logger
}

// NewAuthorizer creates an authorizer publishing to status and showing
// challenges through renderer.
func NewAuthorizer(status StatusPublisher, renderer qrcode.Renderer, logger *slog.Logger) *Authorizer {
	if renderer == nil {
		renderer = qrcode.Nop
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{status: status, renderer: renderer, logger: logger}
}

// Run authorizes sess. It returns StatusAuthorized, or StatusFailed together
// with an *AuthChallengeError or *AuthWaitError. The confirmation wait is
// bounded only by ctx and the connection's lifetime.
func (a *Authorizer) Run(ctx context.Context, sess *Session) (domain.AuthStatus, error) {
	key := sess.Key()
	client := sess.Client()

	authorized, err := client.IsAuthorized(ctx)
	if err != nil {
		return a.fail(sess, "", &AuthChallengeError{IdentityKey: key, Err: fmt.Errorf("check authorization: %w", err)})
	}
	if authorized {
		a.succeed(sess, "")
		return domain.StatusAuthorized, nil
	}

	attemptID := uuid.NewString()
	challenge, err := client.RequestQRChallenge(ctx)
	if err != nil {
		return a.fail(sess, attemptID, &AuthChallengeError{IdentityKey: key, Err: err})
	}
	if challenge == nil || challenge.URL == "" {
		return a.fail(sess, attemptID, &AuthChallengeError{IdentityKey: key, Err: errors.New("empty challenge url")})
	}

	sess.transition(domain.StatusAwaitingQR, challenge.URL, nil)
	a.status.Publish(domain.LoginStatus{
		IdentityKey: key,
		Status:      domain.StatusAwaitingQR,
		QRURL:       challenge.URL,
		AttemptID:   attemptID,
	})
	a.logger.Info("Awaiting QR login", "identity", key, "attempt_id", attemptID)

	if err := a.renderer.Render(ctx, key, challenge.URL); err != nil {
		a.logger.Warn("Failed to render QR challenge", "identity", key, "error", err)
	}

	if err := challenge.Wait(ctx); err != nil {
		return a.fail(sess, attemptID, &AuthWaitError{IdentityKey: key, Err: err})
	}

	a.succeed(sess, attemptID)
	return domain.StatusAuthorized, nil
}

func (a *Authorizer) succeed(sess *Session, attemptID string) {
	sess.transition(domain.StatusAuthorized, "", nil)
	a.status.Publish(domain.LoginStatus{
		IdentityKey: sess.Key(),
		Status:      domain.StatusAuthorized,
		AttemptID:   attemptID,
	})
	a.logger.Info("Session authorized", "identity", sess.Key(), "attempt_id", attemptID)
}

func (a *Authorizer) fail(sess *Session, attemptID string, err error) (domain.AuthStatus, error) {
	sess.transition(domain.StatusFailed, "", err)
	a.status.Publish(domain.LoginStatus{
		IdentityKey: sess.Key(),
		Status:      domain.StatusFailed,
		Reason:      failureReason(err),
		AttemptID:   attemptID,
	})
	a.logger.Warn("QR login failed", "identity", sess.Key(), "attempt_id", attemptID, "error", err)
	return domain.StatusFailed, err
}

func failureReason(err error) string {
	var waitErr *AuthWaitError
	switch {
	case errors.Is(err, context.Canceled):
		return "login cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "login timed out"
	case errors.As(err, &waitErr):
		return "qr confirmation failed: " + waitErr.Err.Error()
	default:
		return err.Error()
	}
}
