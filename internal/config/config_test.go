package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TG_API_ID", "12345")
	t.Setenv("TG_API_HASH", "0123456789abcdef")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DBPath != "./data/messages.sqlite" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Telegram.AppID != 12345 {
		t.Errorf("AppID = %d, want 12345", cfg.Telegram.AppID)
	}
	if cfg.Telegram.ConnectTimeout != 15*time.Second {
		t.Errorf("ConnectTimeout = %v, want 15s", cfg.Telegram.ConnectTimeout)
	}
	if cfg.Ingest.QueueSize != 256 {
		t.Errorf("QueueSize = %d, want 256", cfg.Ingest.QueueSize)
	}
	if !cfg.QRTerminal {
		t.Error("QRTerminal = false, want true")
	}
	if cfg.DialogLimit != 15 || cfg.HistoryLimit != 50 {
		t.Errorf("limits = %d/%d, want 15/50", cfg.DialogLimit, cfg.HistoryLimit)
	}
	if cfg.SessionSecret == "" {
		t.Error("development session secret not filled in")
	}
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false without FRONTEND_URL")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("CONNECT_TIMEOUT", "3s")
	t.Setenv("INGEST_QUEUE_SIZE", "16")
	t.Setenv("QR_TERMINAL", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.Telegram.ConnectTimeout != 3*time.Second {
		t.Errorf("ConnectTimeout = %v, want 3s", cfg.Telegram.ConnectTimeout)
	}
	if cfg.Ingest.QueueSize != 16 {
		t.Errorf("QueueSize = %d, want 16", cfg.Ingest.QueueSize)
	}
	if cfg.QRTerminal {
		t.Error("QRTerminal = true, want false")
	}
}

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("TG_API_ID", "")
	t.Setenv("TG_API_HASH", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "TG_API_ID") {
		t.Errorf("Load() error = %v, want TG_API_ID error", err)
	}
}

func TestLoadRequiresSecretInProduction(t *testing.T) {
	setRequired(t)
	t.Setenv("FRONTEND_URL", "https://capture.example.com")
	t.Setenv("SESSION_SECRET", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "SESSION_SECRET") {
		t.Errorf("Load() error = %v, want SESSION_SECRET error", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:          "8080",
			DBPath:        "db",
			SessionSecret: "s",
			Telegram:      TelegramConfig{AppID: 1, AppHash: "h"},
			Ingest:        IngestConfig{QueueSize: 1},
			DialogLimit:   1,
			HistoryLimit:  1,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"zero queue", func(c *Config) { c.Ingest.QueueSize = 0 }},
		{"negative timeout", func(c *Config) { c.Telegram.ConnectTimeout = -time.Second }},
		{"zero dialog limit", func(c *Config) { c.DialogLimit = 0 }},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Validate() on valid config error = %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil")
			}
		})
	}
}
