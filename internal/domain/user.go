// Package domain contains core domain types for the message capture service.
package domain

import (
	"time"
)

// User is a durable identity record for a message sender, keyed by its
// Telegram id.
type User struct {
	ID         int64     `json:"id"`
	TelegramID int64     `json:"telegram_id"`
	Username   string    `json:"username"`
	CreatedAt  time.Time `json:"created_at"`
}

// Chat is a durable identity record for a conversation, keyed by its
// Telegram id.
type Chat struct {
	ID         int64     `json:"id"`
	TelegramID int64     `json:"telegram_id"`
	Title      string    `json:"chat_title"`
	CreatedAt  time.Time `json:"created_at"`
}
