// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/tgcapture/internal/domain"
)

// Repository defines the interface for persisting identities, messages and
// client auth state.
type Repository interface {
	// GetOrCreateUser returns the user with the given Telegram id, creating it
	// on first sight. A non-empty username refreshes the stored one.
	GetOrCreateUser(ctx context.Context, telegramID int64, username string) (*domain.User, error)

	// GetOrCreateChat returns the chat with the given Telegram id, creating it
	// on first sight. A non-empty title refreshes the stored one.
	GetOrCreateChat(ctx context.Context, telegramID int64, title string) (*domain.Chat, error)

	// SaveMessage appends a message linking sender and chat.
	SaveMessage(ctx context.Context, sender *domain.User, chat *domain.Chat, text string, createdAt time.Time) (*domain.PersistedMessage, error)

	// ListMessages returns up to limit stored messages of a chat, oldest first.
	ListMessages(ctx context.Context, chatID int64, limit int) ([]*domain.PersistedMessage, error)

	// LoadClientSession returns the stored client auth blob, or nil if none.
	LoadClientSession(ctx context.Context, identityKey string) ([]byte, error)

	// StoreClientSession creates or replaces the client auth blob.
	StoreClientSession(ctx context.Context, identityKey string, data []byte) error

	// DeleteClientSession removes the client auth blob. Deleting a missing blob
	// is not an error.
	DeleteClientSession(ctx context.Context, identityKey string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
