// Package telegram defines the remote messaging client primitive used by the
// session layer, and an MTProto implementation of it.
package telegram

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/ashureev/tgcapture/internal/domain"
)

var (
	// ErrTransient marks connect failures worth one more attempt.
	ErrTransient = errors.New("transient connection failure")
	// ErrChallengeExpired is returned by a challenge wait once the token lapsed.
	ErrChallengeExpired = errors.New("qr challenge expired")
	// ErrNotConnected is returned by calls made before Connect or after Close.
	ErrNotConnected = errors.New("client not connected")
)

// Client is one network connection to the remote messaging service.
type Client interface {
	// Connect establishes the connection.
	Connect(ctx context.Context) error

	// Close tears the connection down. It unblocks any pending challenge wait
	// and is safe to call more than once.
	Close() error

	// Alive reports whether the connection is established and not closed.
	Alive() bool

	// IsAuthorized reports whether the connection is logged in.
	IsAuthorized(ctx context.Context) (bool, error)

	// LogOut revokes the connection's authorization on the server.
	LogOut(ctx context.Context) error

	// RequestQRChallenge issues a single-use QR login token.
	RequestQRChallenge(ctx context.Context) (*Challenge, error)

	// SendMessage sends text to a username, phone or link target.
	SendMessage(ctx context.Context, target, text string) error

	// Dialogs lists up to limit conversations.
	Dialogs(ctx context.Context, limit int) ([]domain.Dialog, error)

	// History fetches up to limit recent messages of a dialog, newest first.
	History(ctx context.Context, dialog domain.Dialog, limit int) ([]domain.ChatMessage, error)

	// Subscribe installs the handler for inbound messages, replacing any
	// previous one. The returned func removes it.
	Subscribe(handler func(domain.InboundMessageEvent)) (unsubscribe func())
}

// Dialer creates a fresh, unconnected Client for an identity key.
type Dialer interface {
	Dial(identityKey string) Client
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(identityKey string) Client

// Dial calls f.
func (f DialerFunc) Dial(identityKey string) Client { return f(identityKey) }

// Challenge is an issued QR login token. Wait blocks until the token is
// accepted on another device, it expires, or the connection closes.
type Challenge struct {
	URL  string
	wait func(ctx context.Context) error
}

// NewChallenge builds a challenge from a URL and its confirmation wait.
func NewChallenge(url string, wait func(ctx context.Context) error) *Challenge {
	return &Challenge{URL: url, wait: wait}
}

// Wait blocks until the challenge resolves.
func (c *Challenge) Wait(ctx context.Context) error {
	if c.wait == nil {
		return ErrChallengeExpired
	}
	return c.wait(ctx)
}

// IsTransient reports whether a connect error is an I/O level failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// subscribers holds the single inbound message handler of a client.
type subscribers struct {
	mu      sync.RWMutex
	seq     uint64
	current uint64
	handler func(domain.InboundMessageEvent)
}

func (s *subscribers) set(handler func(domain.InboundMessageEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := s.seq
	s.current = id
	s.handler = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.current == id {
			s.handler = nil
		}
	}
}

func (s *subscribers) deliver(ev domain.InboundMessageEvent) bool {
	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()
	if handler == nil {
		return false
	}
	handler(ev)
	return true
}
