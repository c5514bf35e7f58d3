// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	FrontendURL   string
	DBPath        string
	SessionSecret string
	SecureCookie  bool
	Telegram      TelegramConfig
	Ingest        IngestConfig
	QRTerminal    bool
	DialogLimit   int
	HistoryLimit  int
}

// TelegramConfig holds the MTProto application credentials.
type TelegramConfig struct {
	AppID          int
	AppHash        string
	ConnectTimeout time.Duration
}

// IngestConfig controls the inbound message pipeline.
type IngestConfig struct {
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("frontend_url", "")
	v.SetDefault("db_path", "./data/messages.sqlite")
	v.SetDefault("session_secret", "")
	v.SetDefault("secure_cookie", false)
	v.SetDefault("tg_api_id", 0)
	v.SetDefault("tg_api_hash", "")
	v.SetDefault("connect_timeout", "15s")
	v.SetDefault("ingest_queue_size", 256)
	v.SetDefault("qr_terminal", true)
	v.SetDefault("dialog_limit", 15)
	v.SetDefault("history_limit", 50)

	cfg := &Config{
		Port:          strings.TrimSpace(v.GetString("port")),
		FrontendURL:   strings.TrimSpace(v.GetString("frontend_url")),
		DBPath:        strings.TrimSpace(v.GetString("db_path")),
		SessionSecret: v.GetString("session_secret"),
		SecureCookie:  v.GetBool("secure_cookie"),
		Telegram: TelegramConfig{
			AppID:          v.GetInt("tg_api_id"),
			AppHash:        strings.TrimSpace(v.GetString("tg_api_hash")),
			ConnectTimeout: v.GetDuration("connect_timeout"),
		},
		Ingest: IngestConfig{
			QueueSize: v.GetInt("ingest_queue_size"),
		},
		QRTerminal:   v.GetBool("qr_terminal"),
		DialogLimit:  v.GetInt("dialog_limit"),
		HistoryLimit: v.GetInt("history_limit"),
	}

	if cfg.SessionSecret == "" && cfg.IsDevelopment() {
		cfg.SessionSecret = "dev-session-secret-change-me"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.Telegram.AppID <= 0 {
		return errors.New("TG_API_ID must be a positive integer")
	}
	if c.Telegram.AppHash == "" {
		return errors.New("TG_API_HASH cannot be empty")
	}
	if c.SessionSecret == "" {
		return errors.New("SESSION_SECRET is required outside development")
	}
	if c.Telegram.ConnectTimeout < 0 {
		return errors.New("CONNECT_TIMEOUT cannot be negative")
	}
	if c.Ingest.QueueSize <= 0 {
		return errors.New("INGEST_QUEUE_SIZE must be > 0")
	}
	if c.DialogLimit <= 0 {
		return errors.New("DIALOG_LIMIT must be > 0")
	}
	if c.HistoryLimit <= 0 {
		return errors.New("HISTORY_LIMIT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}
