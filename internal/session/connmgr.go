package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tgcapture/internal/telegram"
)

// connectAttempts is one attempt plus a single retry on transient failure.
const connectAttempts = 2

// sessionLookup is the registry view the connection manager needs.
type sessionLookup interface {
	Get(identityKey string) *Session
}

// ConnectionManager owns the lifecycle of one connection per identity.
type ConnectionManager struct {
	dialer   telegram.Dialer
	sessions sessionLookup
	timeout  time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	open map[string]telegram.Client
}

// NewConnectionManager creates a manager that dials through dialer. A positive
// timeout bounds each connect attempt.
func NewConnectionManager(dialer telegram.Dialer, timeout time.Duration, logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		dialer:  dialer,
		timeout: timeout,
		logger:  logger,
		open:    make(map[string]telegram.Client),
	}
}

// Acquire returns the registered live connection for identityKey, or opens a
// new one. A stale unregistered connection for the key is closed first so an
// identity never holds two sockets.
func (m *ConnectionManager) Acquire(ctx context.Context, identityKey string) (telegram.Client, error) {
	if m.sessions != nil {
		if sess := m.sessions.Get(identityKey); sess != nil && sess.Client().Alive() {
			return sess.Client(), nil
		}
	}

	m.mu.Lock()
	stale := m.open[identityKey]
	delete(m.open, identityKey)
	m.mu.Unlock()
	if stale != nil && !m.registered(identityKey, stale) {
		m.closeClient(identityKey, stale)
	}

	m.logger.Debug("Connecting to Telegram", "identity", identityKey)
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		client := m.dialer.Dial(identityKey)
		err := m.connectOnce(ctx, client)
		if err == nil {
			m.mu.Lock()
			m.open[identityKey] = client
			m.mu.Unlock()
			return client, nil
		}
		m.closeClient(identityKey, client)
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("connect %s: %w", identityKey, ctx.Err())
		}
		if !telegram.IsTransient(err) {
			return nil, &ConnectError{IdentityKey: identityKey, Kind: ConnectRejected, Attempts: attempt, Err: err}
		}
		if attempt < connectAttempts {
			m.logger.Warn("Initial connection failed, retrying", "identity", identityKey, "error", err)
		}
	}

	return nil, &ConnectError{IdentityKey: identityKey, Kind: ConnectUnreachable, Attempts: connectAttempts, Err: lastErr}
}

func (m *ConnectionManager) connectOnce(ctx context.Context, client telegram.Client) error {
	attemptCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	err := client.Connect(attemptCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %w", telegram.ErrTransient, err)
	}
	return err
}

// Release closes the connection opened for identityKey, if any.
func (m *ConnectionManager) Release(identityKey string) {
	m.mu.Lock()
	client, ok := m.open[identityKey]
	delete(m.open, identityKey)
	m.mu.Unlock()

	if ok {
		m.closeClient(identityKey, client)
	}
}

// ReleaseHandle closes handle and forgets it if it is the identity's current
// connection.
func (m *ConnectionManager) ReleaseHandle(identityKey string, handle telegram.Client) {
	m.mu.Lock()
	if current, ok := m.open[identityKey]; ok && current == handle {
		delete(m.open, identityKey)
	}
	m.mu.Unlock()

	m.closeClient(identityKey, handle)
}

// CloseAll closes every connection the manager still holds.
func (m *ConnectionManager) CloseAll() {
	m.mu.Lock()
	open := m.open
	m.open = make(map[string]telegram.Client)
	m.mu.Unlock()

	for key, client := range open {
		m.closeClient(key, client)
	}
}

func (m *ConnectionManager) registered(identityKey string, client telegram.Client) bool {
	if m.sessions == nil {
		return false
	}
	sess := m.sessions.Get(identityKey)
	return sess != nil && sess.Client() == client
}

func (m *ConnectionManager) closeClient(identityKey string, client telegram.Client) {
	if err := client.Close(); err != nil {
		m.logger.Warn("Failed to close connection", "identity", identityKey, "error", err)
		return
	}
	m.logger.Debug("Connection released", "identity", identityKey)
}
