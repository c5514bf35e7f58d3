package ingest

import (
	"context"
	"fmt"

	"github.com/ashureev/tgcapture/internal/domain"
)

// IdentityStore materializes users and chats by remote id.
type IdentityStore interface {
	GetOrCreateUser(ctx context.Context, telegramID int64, username string) (*domain.User, error)
	GetOrCreateChat(ctx context.Context, telegramID int64, title string) (*domain.Chat, error)
}

// Resolver turns the remote identities of an event into stored records.
type Resolver struct {
	store IdentityStore
}

// NewResolver creates a resolver backed by store.
func NewResolver(store IdentityStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the sender and chat of ev, creating them on first sight.
func (r *Resolver) Resolve(ctx context.Context, ev domain.InboundMessageEvent) (*domain.User, *domain.Chat, error) {
	if ev.SenderID == 0 {
		return nil, nil, ErrMissingSender
	}
	if ev.ChatID == 0 {
		return nil, nil, ErrMissingChat
	}

	user, err := r.store.GetOrCreateUser(ctx, ev.SenderID, ev.SenderDisplayName())
	if err != nil {
		return nil, nil, fmt.Errorf("resolve sender %d: %w", ev.SenderID, err)
	}

	chat, err := r.store.GetOrCreateChat(ctx, ev.ChatID, ev.ChatTitle)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve chat %d: %w", ev.ChatID, err)
	}

	return user, chat, nil
}
