// Package telegramtest provides an in-memory telegram.Client for tests.
package telegramtest

import (
	"context"
	"errors"
	"sync"

	"github.com/ashureev/tgcapture/internal/domain"
	"github.com/ashureev/tgcapture/internal/telegram"
)

// SentMessage records one SendMessage call.
type SentMessage struct {
	Target string
	Text   string
}

// Client is a scriptable fake connection.
type Client struct {
	Key string

	mu            sync.Mutex
	connectErr    error
	connected     bool
	closed        bool
	closeCount    int
	authorized    bool
	logOutCount   int
	challengeURL  string
	challengeErr  error
	confirm       chan error
	closedCh      chan struct{}
	challengeSent chan struct{}
	handler       func(domain.InboundMessageEvent)
	handlerSeq    uint64
	dialogs       []domain.Dialog
	history       map[int64][]domain.ChatMessage
	sent          []SentMessage
}

// NewClient returns a fake client that connects successfully and issues
// challengeURL when asked for a QR challenge.
func NewClient(key, challengeURL string) *Client {
	return &Client{
		Key:           key,
		challengeURL:  challengeURL,
		confirm:       make(chan error, 1),
		closedCh:      make(chan struct{}),
		challengeSent: make(chan struct{}),
		history:       make(map[int64][]domain.ChatMessage),
	}
}

var _ telegram.Client = (*Client)(nil)

// FailConnect makes the next Connect return err.
func (c *Client) FailConnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

// SetAuthorized sets the reported authorization state.
func (c *Client) SetAuthorized(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authorized = v
}

// FailChallenge makes RequestQRChallenge return err.
func (c *Client) FailChallenge(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.challengeErr = err
}

// SetDialogs sets the dialog list and per-dialog history.
func (c *Client) SetDialogs(dialogs []domain.Dialog, history map[int64][]domain.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialogs = dialogs
	for id, msgs := range history {
		c.history[id] = msgs
	}
}

// Confirm resolves a pending challenge wait; a nil err authorizes the client.
func (c *Client) Confirm(err error) {
	c.confirm <- err
}

// ChallengeIssued is closed once a QR challenge has been handed out.
func (c *Client) ChallengeIssued() <-chan struct{} {
	return c.challengeSent
}

// Emit delivers an inbound event to the current subscriber.
func (c *Client) Emit(ev domain.InboundMessageEvent) bool {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(ev)
	return true
}

// CloseCount returns how many times Close was called.
func (c *Client) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// LogOutCount returns how many times LogOut was called.
func (c *Client) LogOutCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logOutCount
}

// Sent returns the recorded SendMessage calls.
func (c *Client) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentMessage(nil), c.sent...)
}

func (c *Client) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		err := c.connectErr
		c.connectErr = nil
		return err
	}
	c.connected = true
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}

func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

func (c *Client) IsAuthorized(_ context.Context) (bool, error) {
	if !c.Alive() {
		return false, telegram.ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized, nil
}

func (c *Client) LogOut(_ context.Context) error {
	if !c.Alive() {
		return telegram.ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logOutCount++
	c.authorized = false
	return nil
}

func (c *Client) RequestQRChallenge(_ context.Context) (*telegram.Challenge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.challengeErr != nil {
		return nil, c.challengeErr
	}
	select {
	case <-c.challengeSent:
	default:
		close(c.challengeSent)
	}
	return telegram.NewChallenge(c.challengeURL, c.wait), nil
}

func (c *Client) wait(ctx context.Context) error {
	select {
	case err := <-c.confirm:
		if err == nil {
			c.SetAuthorized(true)
		}
		return err
	case <-c.closedCh:
		return errors.New("connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) SendMessage(_ context.Context, target, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, SentMessage{Target: target, Text: text})
	return nil
}

func (c *Client) Dialogs(_ context.Context, limit int) ([]domain.Dialog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit > 0 && limit < len(c.dialogs) {
		return append([]domain.Dialog(nil), c.dialogs[:limit]...), nil
	}
	return append([]domain.Dialog(nil), c.dialogs...), nil
}

func (c *Client) History(_ context.Context, dialog domain.Dialog, limit int) ([]domain.ChatMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.history[dialog.ID]
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[:limit]
	}
	return append([]domain.ChatMessage(nil), msgs...), nil
}

func (c *Client) Subscribe(handler func(domain.InboundMessageEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlerSeq++
	id := c.handlerSeq
	c.handler = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.handlerSeq == id {
			c.handler = nil
		}
	}
}

// Dialer hands out fake clients and records them per identity key.
type Dialer struct {
	mu      sync.Mutex
	next    func(key string) *Client
	clients map[string][]*Client
}

// NewDialer returns a dialer; next builds each new client and may be nil.
func NewDialer(next func(key string) *Client) *Dialer {
	return &Dialer{next: next, clients: make(map[string][]*Client)}
}

// Dial implements telegram.Dialer.
func (d *Dialer) Dial(key string) telegram.Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	var c *Client
	if d.next != nil {
		c = d.next(key)
	}
	if c == nil {
		c = NewClient(key, "tg://login?token=abc")
	}
	d.clients[key] = append(d.clients[key], c)
	return c
}

// Clients returns every client dialed for key, oldest first.
func (d *Dialer) Clients(key string) []*Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Client(nil), d.clients[key]...)
}
