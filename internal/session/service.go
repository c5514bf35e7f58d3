package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/tgcapture/internal/domain"
	"github.com/ashureev/tgcapture/internal/qrcode"
	"github.com/ashureev/tgcapture/internal/telegram"
)

const (
	// dialogSearchLimit bounds the dialog scan when resolving a chat by title.
	dialogSearchLimit = 100
	// logoutRetryInterval paces Logout while it waits for a cancelled login.
	logoutRetryInterval = 20 * time.Millisecond
)

// Ingestor consumes inbound messages of authorized connections.
type Ingestor interface {
	Attach(identityKey string, client telegram.Client)
	Detach(identityKey string)
	Close()
}

// AuthBlobDeleter forgets the persisted auth state of an identity.
type AuthBlobDeleter interface {
	DeleteClientSession(ctx context.Context, identityKey string) error
}

// Options configures a Service.
type Options struct {
	// ConnectTimeout bounds each connect attempt. Zero means no bound.
	ConnectTimeout time.Duration
	// Renderer shows QR challenges out of band. Nil disables rendering.
	Renderer qrcode.Renderer
	// AuthBlobs is cleared on logout so the next login needs a fresh scan.
	AuthBlobs AuthBlobDeleter
	Logger    *slog.Logger
}

// Service coordinates connection, authorization, registration and ingestion
// for every identity in the process.
type Service struct {
	conns    *ConnectionManager
	registry *Registry
	status   *StatusStore
	auth     *Authorizer
	ingest   Ingestor
	blobs    AuthBlobDeleter
	logger   *slog.Logger

	locks  sync.Map // identity key -> *sync.Mutex
	logins sync.Map // identity key -> *pendingLogin

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService wires a connection manager, registry and authorizer around dialer.
// ingest may be nil.
func NewService(dialer telegram.Dialer, ingest Ingestor, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conns := NewConnectionManager(dialer, opts.ConnectTimeout, logger)
	registry := NewRegistry(conns, logger)
	conns.sessions = registry
	status := NewStatusStore()

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		conns:    conns,
		registry: registry,
		status:   status,
		auth:     NewAuthorizer(status, opts.Renderer, logger),
		ingest:   ingest,
		blobs:    opts.AuthBlobs,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Status returns the login status store.
func (s *Service) Status() *StatusStore { return s.status }

// LoginStatus returns the latest published status for an identity. A
// registered session with no published status reports Authorized.
func (s *Service) LoginStatus(identityKey string) domain.LoginStatus {
	if st, ok := s.status.Get(identityKey); ok {
		return st
	}
	if sess := s.registry.Get(identityKey); sess != nil {
		return domain.LoginStatus{IdentityKey: identityKey, Status: domain.StatusAuthorized}
	}
	return domain.LoginStatus{IdentityKey: identityKey, Status: domain.StatusUnauthenticated}
}

// WatchStatus streams status updates for an identity until stop is called.
func (s *Service) WatchStatus(identityKey string) (<-chan domain.LoginStatus, func()) {
	return s.status.Watch(identityKey)
}

// Sessions returns the identity keys with a registered session.
func (s *Service) Sessions() []string { return s.registry.Keys() }

// Initialize acquires a connection for identityKey and authorizes it, blocking
// until the QR flow reaches a terminal state. On success the session is
// registered and its inbound messages are ingested.
//
// When authorization fails the returned session is non-nil and the error is
// nil; callers must check Status or IsAuthorized rather than trust presence.
// A non-nil error means no connection could be acquired or registered.
func (s *Service) Initialize(ctx context.Context, identityKey string) (*Session, error) {
	if strings.TrimSpace(identityKey) == "" {
		return nil, ErrInvalidIdentity
	}

	lock := s.lockFor(identityKey)
	lock.Lock()
	defer lock.Unlock()

	loginCtx, finish := s.trackLogin(ctx, identityKey)
	defer finish()
	return s.initialize(loginCtx, identityKey)
}

func (s *Service) initialize(ctx context.Context, identityKey string) (*Session, error) {
	client, err := s.conns.Acquire(ctx, identityKey)
	if err != nil {
		s.status.Publish(domain.LoginStatus{
			IdentityKey: identityKey,
			Status:      domain.StatusFailed,
			Reason:      err.Error(),
		})
		s.logger.Error("Failed to connect", "identity", identityKey, "error", err)
		return nil, err
	}

	if sess := s.registry.Get(identityKey); sess != nil && sess.Client() == client {
		return sess, nil
	}

	sess := newSession(identityKey, client)
	status, authErr := s.auth.Run(ctx, sess)
	if status != domain.StatusAuthorized {
		s.logger.Warn("Returning unauthorized session", "identity", identityKey, "error", authErr)
		return sess, nil
	}

	if err := s.registry.Put(identityKey, sess); err != nil {
		s.conns.Release(identityKey)
		return nil, fmt.Errorf("register session %s: %w", identityKey, err)
	}
	if s.ingest != nil {
		s.ingest.Attach(identityKey, client)
	}
	return sess, nil
}

// BeginLogin starts Initialize in the background and returns as soon as the
// login has something to show: a QR challenge, a terminal status, or the
// result of a login that needed no challenge. A login already in progress for
// the identity is not restarted; its current status is returned instead.
func (s *Service) BeginLogin(ctx context.Context, identityKey string) (domain.LoginStatus, error) {
	if strings.TrimSpace(identityKey) == "" {
		return domain.LoginStatus{}, ErrInvalidIdentity
	}
	if sess := s.registry.Get(identityKey); sess != nil && sess.Client().Alive() {
		return s.LoginStatus(identityKey), nil
	}

	updates, stop := s.status.Watch(identityKey)
	defer stop()

	lock := s.lockFor(identityKey)
	if !lock.TryLock() {
		return s.LoginStatus(identityKey), nil
	}

	loginCtx, finish := s.trackLogin(s.ctx, identityKey)
	done := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer lock.Unlock()
		defer finish()

		sess, err := s.initialize(loginCtx, identityKey)
		if err == nil && s.registry.Get(identityKey) != sess {
			// Nobody holds a failed background login's handle.
			s.conns.ReleaseHandle(identityKey, sess.Client())
		}
		done <- err
	}()

	for {
		select {
		case st := <-updates:
			if st.Status == domain.StatusAwaitingQR {
				return st, nil
			}
		case err := <-done:
			return s.LoginStatus(identityKey), err
		case <-ctx.Done():
			return s.LoginStatus(identityKey), ctx.Err()
		}
	}
}

// GetSession returns the registered session for an identity, or nil.
func (s *Service) GetSession(identityKey string) *Session {
	return s.registry.Get(identityKey)
}

// Logout revokes the identity's authorization, stops ingestion, releases its
// connection and forgets its status. A login in progress is cancelled first.
// An identity without a session is not an error.
func (s *Service) Logout(ctx context.Context, identityKey string) error {
	lock := s.lockFor(identityKey)
	if err := s.interruptLogin(ctx, identityKey, lock); err != nil {
		return err
	}
	defer lock.Unlock()

	if sess := s.registry.Get(identityKey); sess != nil && sess.Client().Alive() {
		if err := sess.Client().LogOut(ctx); err != nil {
			s.logger.Warn("Failed to revoke remote authorization", "identity", identityKey, "error", err)
		}
	}
	if s.ingest != nil {
		s.ingest.Detach(identityKey)
	}
	removed := s.registry.Remove(identityKey)
	s.conns.Release(identityKey)
	s.status.Delete(identityKey)

	if !removed {
		s.logger.Debug("Logout without active session", "identity", identityKey)
	} else {
		s.logger.Info("Logged out", "identity", identityKey)
	}

	if s.blobs != nil {
		if err := s.blobs.DeleteClientSession(ctx, identityKey); err != nil {
			return fmt.Errorf("forget auth state for %s: %w", identityKey, err)
		}
	}
	return nil
}

// ListDialogs lists up to limit conversations of an authorized identity.
func (s *Service) ListDialogs(ctx context.Context, identityKey string, limit int) ([]domain.Dialog, error) {
	sess, err := s.authorized(ctx, identityKey)
	if err != nil {
		return nil, err
	}
	dialogs, err := sess.Client().Dialogs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list dialogs for %s: %w", identityKey, err)
	}
	return dialogs, nil
}

// FetchChatMessages returns up to limit recent messages of the dialog titled
// chatTitle.
func (s *Service) FetchChatMessages(ctx context.Context, identityKey, chatTitle string, limit int) ([]domain.ChatMessage, error) {
	sess, err := s.authorized(ctx, identityKey)
	if err != nil {
		return nil, err
	}

	dialogs, err := sess.Client().Dialogs(ctx, dialogSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("list dialogs for %s: %w", identityKey, err)
	}
	for _, dialog := range dialogs {
		if dialog.Title != chatTitle {
			continue
		}
		messages, err := sess.Client().History(ctx, dialog, limit)
		if err != nil {
			return nil, fmt.Errorf("fetch history of %q: %w", chatTitle, err)
		}
		return messages, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrDialogNotFound, chatTitle)
}

// SendMessage sends text to target from an authorized identity.
func (s *Service) SendMessage(ctx context.Context, identityKey, target, text string) error {
	sess, err := s.authorized(ctx, identityKey)
	if err != nil {
		return err
	}
	if err := sess.Client().SendMessage(ctx, target, text); err != nil {
		return fmt.Errorf("send message to %s: %w", target, err)
	}
	return nil
}

func (s *Service) authorized(ctx context.Context, identityKey string) (*Session, error) {
	sess := s.registry.Get(identityKey)
	if sess == nil {
		return nil, ErrNoSession
	}
	ok, err := sess.IsAuthorized(ctx)
	if err != nil {
		return nil, fmt.Errorf("check authorization for %s: %w", identityKey, err)
	}
	if !ok {
		return nil, ErrNotAuthorized
	}
	return sess, nil
}

// Shutdown cancels pending logins, stops ingestion and releases every
// connection. It waits for background logins until ctx is done.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()

	var err error
	select {
	case <-waited:
	case <-ctx.Done():
		err = fmt.Errorf("wait for pending logins: %w", ctx.Err())
	}

	if s.ingest != nil {
		s.ingest.Close()
	}
	s.registry.Close()
	s.conns.CloseAll()
	s.logger.Info("Session service stopped")
	return err
}

type pendingLogin struct {
	cancel context.CancelFunc
}

// trackLogin derives a context Logout can cancel. finish must be called once
// the login returns.
func (s *Service) trackLogin(ctx context.Context, identityKey string) (context.Context, func()) {
	loginCtx, cancel := context.WithCancel(ctx)
	pending := &pendingLogin{cancel: cancel}
	s.logins.Store(identityKey, pending)
	return loginCtx, func() {
		s.logins.CompareAndDelete(identityKey, pending)
		cancel()
	}
}

// interruptLogin cancels any login in flight for identityKey and returns with
// lock held.
func (s *Service) interruptLogin(ctx context.Context, identityKey string, lock *sync.Mutex) error {
	ticker := time.NewTicker(logoutRetryInterval)
	defer ticker.Stop()

	for {
		if pending, ok := s.logins.Load(identityKey); ok {
			pending.(*pendingLogin).cancel()
		}
		if lock.TryLock() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("logout %s: %w", identityKey, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Service) lockFor(identityKey string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(identityKey, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
