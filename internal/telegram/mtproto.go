package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	gotd "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"

	"github.com/ashureev/tgcapture/internal/domain"
)

const closeTimeout = 10 * time.Second

// MTProtoDialer creates MTProto clients for one registered application.
type MTProtoDialer struct {
	AppID    int
	AppHash  string
	Sessions SessionStore
	Logger   *slog.Logger
}

// Dial builds an unconnected client whose auth state is persisted under
// identityKey.
func (d *MTProtoDialer) Dial(identityKey string) Client {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &mtprotoClient{
		key:    identityKey,
		logger: logger.With("identity", identityKey),
	}

	dispatcher := tg.NewUpdateDispatcher()
	c.loggedIn = qrlogin.OnLoginToken(dispatcher)
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		c.handleMessage(ctx, e, u.Message)
		return nil
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		c.handleMessage(ctx, e, u.Message)
		return nil
	})

	opts := gotd.Options{UpdateHandler: dispatcher}
	if d.Sessions != nil {
		opts.SessionStorage = &blobStorage{key: identityKey, store: d.Sessions}
	}
	c.client = gotd.NewClient(d.AppID, d.AppHash, opts)
	return c
}

type mtprotoClient struct {
	key      string
	client   *gotd.Client
	loggedIn qrlogin.LoggedIn
	logger   *slog.Logger
	subs     subscribers

	mu        sync.Mutex
	runCtx    context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	self      *tg.User
}

// Connect starts the client run loop and returns once it is connected.
func (c *mtprotoClient) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan struct{})
	var runErr error

	go func() {
		defer close(done)
		runErr = c.client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			c.logger.Warn("Telegram client stopped", "error", runErr)
		}
	}()

	select {
	case <-ready:
		c.mu.Lock()
		c.runCtx = runCtx
		c.cancel = cancel
		c.done = done
		c.mu.Unlock()
		c.logger.Info("Telegram client connected")
		return nil
	case <-done:
		cancel()
		return fmt.Errorf("run client: %w", runErr)
	case <-ctx.Done():
		cancel()
		<-done
		return fmt.Errorf("%w: %w", ErrTransient, ctx.Err())
	}
}

// Close stops the run loop and waits for it to exit.
func (c *mtprotoClient) Close() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}

	var err error
	c.closeOnce.Do(func() {
		cancel()
		select {
		case <-done:
			c.logger.Info("Telegram client closed")
		case <-time.After(closeTimeout):
			err = errors.New("timed out waiting for client shutdown")
		}
	})
	return err
}

// Alive reports whether the run loop is active.
func (c *mtprotoClient) Alive() bool {
	_, ok := c.running()
	return ok
}

func (c *mtprotoClient) running() (context.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		return nil, false
	}
	select {
	case <-c.done:
		return nil, false
	default:
		return c.runCtx, true
	}
}

// IsAuthorized asks the server whether this connection is logged in.
func (c *mtprotoClient) IsAuthorized(ctx context.Context) (bool, error) {
	if !c.Alive() {
		return false, ErrNotConnected
	}
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return false, fmt.Errorf("auth status: %w", err)
	}
	return status.Authorized, nil
}

// LogOut terminates this authorization so it no longer lists among the
// account's active sessions.
func (c *mtprotoClient) LogOut(ctx context.Context) error {
	if !c.Alive() {
		return ErrNotConnected
	}
	if _, err := c.client.API().AuthLogOut(ctx); err != nil {
		return fmt.Errorf("auth log out: %w", err)
	}
	c.logger.Info("Authorization revoked")
	return nil
}

// RequestQRChallenge exports a login token. The first token is the challenge;
// a refreshed token means it expired, which ends the wait with
// ErrChallengeExpired.
func (c *mtprotoClient) RequestQRChallenge(ctx context.Context) (*Challenge, error) {
	runCtx, ok := c.running()
	if !ok {
		return nil, ErrNotConnected
	}

	authCtx, cancel := context.WithCancel(runCtx)
	tokens := make(chan qrlogin.Token, 1)
	result := make(chan error, 1)

	go func() {
		shown := false
		_, err := c.client.QR().Auth(authCtx, c.loggedIn, func(_ context.Context, token qrlogin.Token) error {
			if shown {
				return ErrChallengeExpired
			}
			shown = true
			tokens <- token
			return nil
		})
		result <- err
	}()

	select {
	case token := <-tokens:
		c.logger.Info("QR login token issued", "expires", token.Expires())
		return NewChallenge(token.URL(), func(ctx context.Context) error {
			defer cancel()
			select {
			case err := <-result:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		}), nil
	case err := <-result:
		cancel()
		if err == nil {
			err = errors.New("login finished without issuing a token")
		}
		return nil, fmt.Errorf("export login token: %w", err)
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

// SendMessage resolves target and sends text to it.
func (c *mtprotoClient) SendMessage(ctx context.Context, target, text string) error {
	if !c.Alive() {
		return ErrNotConnected
	}
	sender := message.NewSender(c.client.API())
	if _, err := sender.Resolve(target).Text(ctx, text); err != nil {
		return fmt.Errorf("send message to %s: %w", target, err)
	}
	return nil
}

// Dialogs lists the first limit dialogs.
func (c *mtprotoClient) Dialogs(ctx context.Context, limit int) ([]domain.Dialog, error) {
	if !c.Alive() {
		return nil, ErrNotConnected
	}

	res, err := c.client.API().MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("get dialogs: %w", err)
	}

	var dialogs []tg.DialogClass
	var idx entityIndex
	switch v := res.(type) {
	case *tg.MessagesDialogs:
		dialogs, idx = v.Dialogs, indexEntities(v.Users, v.Chats)
	case *tg.MessagesDialogsSlice:
		dialogs, idx = v.Dialogs, indexEntities(v.Users, v.Chats)
	default:
		return nil, nil
	}

	out := make([]domain.Dialog, 0, len(dialogs))
	for _, dc := range dialogs {
		d, ok := dc.(*tg.Dialog)
		if !ok {
			continue
		}
		if dialog, ok := idx.dialog(d.Peer); ok {
			out = append(out, dialog)
		}
	}
	return out, nil
}

// History fetches the most recent limit messages of a dialog.
func (c *mtprotoClient) History(ctx context.Context, dialog domain.Dialog, limit int) ([]domain.ChatMessage, error) {
	if !c.Alive() {
		return nil, ErrNotConnected
	}

	peer, err := inputPeer(dialog)
	if err != nil {
		return nil, err
	}

	res, err := c.client.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  peer,
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	var messages []tg.MessageClass
	var idx entityIndex
	switch v := res.(type) {
	case *tg.MessagesMessages:
		messages, idx = v.Messages, indexEntities(v.Users, v.Chats)
	case *tg.MessagesMessagesSlice:
		messages, idx = v.Messages, indexEntities(v.Users, v.Chats)
	case *tg.MessagesChannelMessages:
		messages, idx = v.Messages, indexEntities(v.Users, v.Chats)
	default:
		return nil, nil
	}

	out := make([]domain.ChatMessage, 0, len(messages))
	for _, mc := range messages {
		m, ok := mc.(*tg.Message)
		if !ok {
			continue
		}
		cm := domain.ChatMessage{
			ID:     int64(m.ID),
			IsSelf: m.Out,
			Text:   m.Message,
			SentAt: time.Unix(int64(m.Date), 0),
		}
		from, ok := m.GetFromID()
		if !ok {
			from = m.PeerID
			if m.Out {
				if self := idx.self(); self != nil {
					from = &tg.PeerUser{UserID: self.ID}
				}
			}
		}
		switch p := from.(type) {
		case *tg.PeerUser:
			u := idx.users[p.UserID]
			if u != nil {
				cm.Username = domain.DisplayName(u.Username, u.FirstName, u.ID)
				cm.IsSelf = cm.IsSelf || u.Self
			} else {
				cm.Username = domain.DisplayName("", "", p.UserID)
			}
		default:
			if d, ok := idx.dialog(from); ok {
				cm.Username = d.Title
			}
		}
		out = append(out, cm)
	}
	return out, nil
}

// Subscribe installs the inbound message handler.
func (c *mtprotoClient) Subscribe(handler func(domain.InboundMessageEvent)) func() {
	return c.subs.set(handler)
}

func (c *mtprotoClient) handleMessage(ctx context.Context, e tg.Entities, mc tg.MessageClass) {
	m, ok := mc.(*tg.Message)
	if !ok {
		return
	}

	idx := entityIndex{users: e.Users, chats: e.Chats, channels: e.Channels}
	ev := domain.InboundMessageEvent{
		MessageID: int64(m.ID),
		Text:      m.Message,
		Outgoing:  m.Out,
		Timestamp: time.Unix(int64(m.Date), 0),
	}

	if chat, ok := idx.dialog(m.PeerID); ok {
		ev.ChatID, ev.ChatTitle = chat.ID, chat.Title
	}

	from, ok := m.GetFromID()
	if !ok {
		from = m.PeerID
		if m.Out {
			if self := c.selfUser(ctx); self != nil {
				idx.users = withUser(idx.users, self)
				from = &tg.PeerUser{UserID: self.ID}
			}
		}
	}

	switch p := from.(type) {
	case *tg.PeerUser:
		ev.SenderID = p.UserID
		if u := idx.users[p.UserID]; u != nil {
			ev.SenderUsername, ev.SenderFirstName, ev.SenderLastName = u.Username, u.FirstName, u.LastName
		}
	default:
		if d, ok := idx.dialog(from); ok {
			ev.SenderID, ev.SenderFirstName = d.ID, d.Title
		}
	}

	if !c.subs.deliver(ev) {
		c.logger.Debug("Inbound message without subscriber", "chat_id", ev.ChatID)
	}
}

func (c *mtprotoClient) selfUser(ctx context.Context) *tg.User {
	c.mu.Lock()
	self := c.self
	c.mu.Unlock()
	if self != nil {
		return self
	}

	self, err := c.client.Self(ctx)
	if err != nil {
		c.logger.Warn("Failed to resolve self user", "error", err)
		return nil
	}
	c.mu.Lock()
	c.self = self
	c.mu.Unlock()
	return self
}

type entityIndex struct {
	users    map[int64]*tg.User
	chats    map[int64]*tg.Chat
	channels map[int64]*tg.Channel
}

func indexEntities(users []tg.UserClass, chats []tg.ChatClass) entityIndex {
	idx := entityIndex{
		users:    make(map[int64]*tg.User, len(users)),
		chats:    make(map[int64]*tg.Chat),
		channels: make(map[int64]*tg.Channel),
	}
	for _, uc := range users {
		if u, ok := uc.(*tg.User); ok {
			idx.users[u.ID] = u
		}
	}
	for _, cc := range chats {
		switch ch := cc.(type) {
		case *tg.Chat:
			idx.chats[ch.ID] = ch
		case *tg.Channel:
			idx.channels[ch.ID] = ch
		}
	}
	return idx
}

func (idx entityIndex) self() *tg.User {
	for _, u := range idx.users {
		if u.Self {
			return u
		}
	}
	return nil
}

func (idx entityIndex) dialog(peer tg.PeerClass) (domain.Dialog, bool) {
	switch p := peer.(type) {
	case *tg.PeerUser:
		d := domain.Dialog{ID: p.UserID, Kind: domain.PeerUser}
		if u := idx.users[p.UserID]; u != nil {
			d.AccessHash = u.AccessHash
			d.Title = userTitle(u)
		}
		return d, true
	case *tg.PeerChat:
		d := domain.Dialog{ID: p.ChatID, Kind: domain.PeerChat}
		if ch := idx.chats[p.ChatID]; ch != nil {
			d.Title = ch.Title
		}
		return d, true
	case *tg.PeerChannel:
		d := domain.Dialog{ID: p.ChannelID, Kind: domain.PeerChannel}
		if ch := idx.channels[p.ChannelID]; ch != nil {
			d.AccessHash = ch.AccessHash
			d.Title = ch.Title
		}
		return d, true
	default:
		return domain.Dialog{}, false
	}
}

func userTitle(u *tg.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	return u.Username
}

func withUser(users map[int64]*tg.User, u *tg.User) map[int64]*tg.User {
	out := make(map[int64]*tg.User, len(users)+1)
	for id, v := range users {
		out[id] = v
	}
	out[u.ID] = u
	return out
}

func inputPeer(d domain.Dialog) (tg.InputPeerClass, error) {
	switch d.Kind {
	case domain.PeerUser:
		return &tg.InputPeerUser{UserID: d.ID, AccessHash: d.AccessHash}, nil
	case domain.PeerChat:
		return &tg.InputPeerChat{ChatID: d.ID}, nil
	case domain.PeerChannel:
		return &tg.InputPeerChannel{ChannelID: d.ID, AccessHash: d.AccessHash}, nil
	default:
		return nil, fmt.Errorf("unknown dialog kind %q", d.Kind)
	}
}
