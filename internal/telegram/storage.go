package telegram

import (
	"context"
	"fmt"

	"github.com/gotd/td/session"
)

// SessionStore persists client auth blobs keyed by identity.
type SessionStore interface {
	LoadClientSession(ctx context.Context, identityKey string) ([]byte, error)
	StoreClientSession(ctx context.Context, identityKey string, data []byte) error
}

// blobStorage adapts SessionStore to the MTProto session storage contract.
type blobStorage struct {
	key   string
	store SessionStore
}

var _ session.Storage = (*blobStorage)(nil)

func (s *blobStorage) LoadSession(ctx context.Context) ([]byte, error) {
	data, err := s.store.LoadClientSession(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("load session for %s: %w", s.key, err)
	}
	if len(data) == 0 {
		return nil, session.ErrNotFound
	}
	return data, nil
}

func (s *blobStorage) StoreSession(ctx context.Context, data []byte) error {
	if err := s.store.StoreClientSession(ctx, s.key, data); err != nil {
		return fmt.Errorf("store session for %s: %w", s.key, err)
	}
	return nil
}
