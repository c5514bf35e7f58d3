package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/ashureev/tgcapture/internal/domain"
)

func TestResolver_Resolve(t *testing.T) {
	mem := newMemoryStore()
	r := NewResolver(mem)

	tests := []struct {
		name     string
		ev       domain.InboundMessageEvent
		wantName string
		wantErr  error
	}{
		{name: "username", ev: domain.InboundMessageEvent{SenderID: 1, SenderUsername: "alice", SenderFirstName: "Alice", ChatID: 7}, wantName: "alice"},
		{name: "first name fallback", ev: domain.InboundMessageEvent{SenderID: 2, SenderFirstName: "Bob", ChatID: 7}, wantName: "Bob"},
		{name: "id fallback", ev: domain.InboundMessageEvent{SenderID: 3, ChatID: 7}, wantName: "3"},
		{name: "missing sender", ev: domain.InboundMessageEvent{ChatID: 7}, wantErr: ErrMissingSender},
		{name: "missing chat", ev: domain.InboundMessageEvent{SenderID: 4}, wantErr: ErrMissingChat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, chat, err := r.Resolve(context.Background(), tt.ev)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if user.Username != tt.wantName {
				t.Errorf("Username = %q, want %q", user.Username, tt.wantName)
			}
			if chat.TelegramID != 7 {
				t.Errorf("chat TelegramID = %d, want 7", chat.TelegramID)
			}
		})
	}
}

func TestIngestionError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &IngestionError{IdentityKey: "+1", Stage: StagePersist, ChatID: 7, SenderID: 42, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("IngestionError does not unwrap to its cause")
	}
	if err.Error() == "" {
		t.Error("empty error message")
	}
}
