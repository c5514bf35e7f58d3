package domain

import (
	"strconv"
	"strings"
	"time"
)

// InboundMessageEvent is a new message pushed by the remote service.
type InboundMessageEvent struct {
	MessageID       int64
	SenderID        int64
	SenderUsername  string
	SenderFirstName string
	SenderLastName  string
	ChatID          int64
	ChatTitle       string
	Text            string
	Outgoing        bool
	Timestamp       time.Time
}

// SenderDisplayName prefers the sender's handle and falls back to the given
// name, then the numeric id.
func (e InboundMessageEvent) SenderDisplayName() string {
	return DisplayName(e.SenderUsername, e.SenderFirstName, e.SenderID)
}

// DisplayName picks the username if set, else the given name, else the id.
func DisplayName(username, firstName string, id int64) string {
	if name := strings.TrimSpace(username); name != "" {
		return name
	}
	if name := strings.TrimSpace(firstName); name != "" {
		return name
	}
	return strconv.FormatInt(id, 10)
}

// PersistedMessage is an append-only stored message linking a sender and chat.
type PersistedMessage struct {
	ID        int64     `json:"id"`
	SenderID  int64     `json:"sender_id"`
	ChatID    int64     `json:"chat_id"`
	Text      string    `json:"message_text"`
	CreatedAt time.Time `json:"timestamp"`
}

// PeerKind identifies the kind of conversation a dialog refers to.
type PeerKind string

const (
	PeerUser    PeerKind = "user"
	PeerChat    PeerKind = "chat"
	PeerChannel PeerKind = "channel"
)

// Dialog is one conversation in a user's dialog list.
type Dialog struct {
	ID         int64    `json:"id"`
	Kind       PeerKind `json:"kind"`
	AccessHash int64    `json:"-"`
	Title      string   `json:"title"`
}

// ChatMessage is a message fetched from a dialog's history.
type ChatMessage struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	IsSelf   bool      `json:"is_self"`
	Text     string    `json:"message_text"`
	SentAt   time.Time `json:"sent_at"`
}
