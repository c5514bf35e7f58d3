package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/tgcapture/internal/domain"
	"github.com/ashureev/tgcapture/internal/shared"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	writeRetryAttempts = 3
	writeRetryDelay    = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository and applies migrations.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) string {
	values := url.Values{}
	values.Add("_pragma", "foreign_keys(ON)")
	values.Add("_pragma", "journal_mode(WAL)")
	values.Add("_pragma", "synchronous(NORMAL)")
	values.Add("_pragma", "busy_timeout(5000)")
	return "file:" + path + "?" + values.Encode()
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetOrCreateUser returns the user keyed by telegramID, creating it if absent.
func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, telegramID int64, username string) (*domain.User, error) {
	query := `
	INSERT INTO users (telegram_id, username, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(telegram_id) DO UPDATE SET
		username = CASE WHEN excluded.username <> '' THEN excluded.username ELSE users.username END
	RETURNING id, telegram_id, username, created_at`

	var user domain.User
	var createdAt int64
	err := shared.RetryOnConflict(ctx, "get_or_create_user", writeRetryAttempts, writeRetryDelay, func() error {
		return s.db.QueryRowContext(ctx, query, telegramID, username, time.Now().Unix()).
			Scan(&user.ID, &user.TelegramID, &user.Username, &createdAt)
	})
	if err != nil {
		return nil, fmt.Errorf("upsert user %d: %w", telegramID, err)
	}

	user.CreatedAt = time.Unix(createdAt, 0)
	return &user, nil
}

// GetOrCreateChat returns the chat keyed by telegramID, creating it if absent.
func (s *SQLiteStore) GetOrCreateChat(ctx context.Context, telegramID int64, title string) (*domain.Chat, error) {
	query := `
	INSERT INTO chats (telegram_id, chat_title, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(telegram_id) DO UPDATE SET
		chat_title = CASE WHEN excluded.chat_title <> '' THEN excluded.chat_title ELSE chats.chat_title END
	RETURNING id, telegram_id, chat_title, created_at`

	var chat domain.Chat
	var createdAt int64
	err := shared.RetryOnConflict(ctx, "get_or_create_chat", writeRetryAttempts, writeRetryDelay, func() error {
		return s.db.QueryRowContext(ctx, query, telegramID, title, time.Now().Unix()).
			Scan(&chat.ID, &chat.TelegramID, &chat.Title, &createdAt)
	})
	if err != nil {
		return nil, fmt.Errorf("upsert chat %d: %w", telegramID, err)
	}

	chat.CreatedAt = time.Unix(createdAt, 0)
	return &chat, nil
}

// SaveMessage appends a message linking sender and chat.
func (s *SQLiteStore) SaveMessage(ctx context.Context, sender *domain.User, chat *domain.Chat, text string, createdAt time.Time) (*domain.PersistedMessage, error) {
	if sender == nil || chat == nil {
		return nil, errors.New("save message: sender and chat are required")
	}
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `INSERT INTO chat_messages (chat_id, sender_id, message_text, created_at) VALUES (?, ?, ?, ?)`

	var result sql.Result
	err := shared.RetryOnConflict(ctx, "save_message", writeRetryAttempts, writeRetryDelay, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, chat.ID, sender.ID, text, createdAt.Unix())
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get message id: %w", err)
	}

	return &domain.PersistedMessage{
		ID:        id,
		SenderID:  sender.ID,
		ChatID:    chat.ID,
		Text:      text,
		CreatedAt: time.Unix(createdAt.Unix(), 0),
	}, nil
}

// ListMessages returns up to limit messages of a chat, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID int64, limit int) ([]*domain.PersistedMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, sender_id, chat_id, message_text, created_at
		FROM chat_messages WHERE chat_id = ? ORDER BY id ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []*domain.PersistedMessage
	for rows.Next() {
		var msg domain.PersistedMessage
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ChatID, &msg.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// LoadClientSession returns the stored auth blob for an identity.
func (s *SQLiteStore) LoadClientSession(ctx context.Context, identityKey string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM client_sessions WHERE identity_key = ?`, identityKey).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load client session: %w", err)
	}
	return data, nil
}

// StoreClientSession creates or replaces the auth blob for an identity.
func (s *SQLiteStore) StoreClientSession(ctx context.Context, identityKey string, data []byte) error {
	query := `
	INSERT INTO client_sessions (identity_key, data, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(identity_key) DO UPDATE SET
		data = excluded.data,
		updated_at = excluded.updated_at`

	err := shared.RetryOnConflict(ctx, "store_client_session", writeRetryAttempts, writeRetryDelay, func() error {
		_, execErr := s.db.ExecContext(ctx, query, identityKey, data, time.Now().Unix())
		return execErr
	})
	if err != nil {
		return fmt.Errorf("store client session: %w", err)
	}
	return nil
}

// DeleteClientSession removes the auth blob for an identity.
func (s *SQLiteStore) DeleteClientSession(ctx context.Context, identityKey string) error {
	err := shared.RetryOnConflict(ctx, "delete_client_session", writeRetryAttempts, writeRetryDelay, func() error {
		_, execErr := s.db.ExecContext(ctx, `DELETE FROM client_sessions WHERE identity_key = ?`, identityKey)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("delete client session: %w", err)
	}
	return nil
}
