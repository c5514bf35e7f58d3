// Package session manages per-identity connections to Telegram, drives the QR
// login flow and keeps the registry of authorized sessions.
package session

import (
	"context"
	"sync"

	"github.com/ashureev/tgcapture/internal/domain"
	"github.com/ashureev/tgcapture/internal/telegram"
)

// Session is one identity's relationship to the remote service. It exclusively
// owns its connection once registered.
type Session struct {
	key    string
	client telegram.Client

	mu     sync.RWMutex
	status domain.AuthStatus
	qrURL  string
	err    error
}

func newSession(key string, client telegram.Client) *Session {
	return &Session{key: key, client: client, status: domain.StatusUnauthenticated}
}

// Key returns the identity key.
func (s *Session) Key() string { return s.key }

// Client returns the connection handle.
func (s *Session) Client() telegram.Client { return s.client }

// Status returns the last authorization state reached by this session.
func (s *Session) Status() domain.AuthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// QRChallengeURL returns the challenge URL while awaiting a scan.
func (s *Session) QRChallengeURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qrURL
}

// Err returns the error that moved the session to Failed, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// IsAuthorized asks the connection whether it is logged in. A session returned
// from a failed login is non-nil but not authorized, so callers check this
// rather than relying on presence.
func (s *Session) IsAuthorized(ctx context.Context) (bool, error) {
	return s.client.IsAuthorized(ctx)
}

func (s *Session) transition(status domain.AuthStatus, qrURL string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	if status == domain.StatusAwaitingQR {
		s.qrURL = qrURL
	} else {
		s.qrURL = ""
	}
	s.err = err
}
