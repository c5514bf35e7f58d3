// Telegram capture server: QR login, chat access and inbound message capture.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/tgcapture/internal/api"
	"github.com/ashureev/tgcapture/internal/config"
	"github.com/ashureev/tgcapture/internal/identity"
	"github.com/ashureev/tgcapture/internal/ingest"
	"github.com/ashureev/tgcapture/internal/middleware"
	"github.com/ashureev/tgcapture/internal/qrcode"
	"github.com/ashureev/tgcapture/internal/session"
	"github.com/ashureev/tgcapture/internal/store"
	"github.com/ashureev/tgcapture/internal/telegram"
	"github.com/ashureev/tgcapture/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	dialer := &telegram.MTProtoDialer{
		AppID:    cfg.Telegram.AppID,
		AppHash:  cfg.Telegram.AppHash,
		Sessions: repo,
		Logger:   logger,
	}

	var renderer qrcode.Renderer = qrcode.Nop
	if cfg.QRTerminal {
		renderer = qrcode.NewTerminalRenderer(os.Stderr)
	}

	pipeline := ingest.NewPipeline(repo, cfg.Ingest.QueueSize, logger)
	svc := session.NewService(dialer, pipeline, session.Options{
		ConnectTimeout: cfg.Telegram.ConnectTimeout,
		Renderer:       renderer,
		AuthBlobs:      repo,
		Logger:         logger,
	})

	ids := identity.NewStore(cfg.SessionSecret, cfg.SecureCookie)
	handler := api.NewHandler(svc, ids, api.Options{
		DialogLimit:   cfg.DialogLimit,
		HistoryLimit:  cfg.HistoryLimit,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
	})
	healthHandler := api.NewHealthHandler(repo, svc.Sessions, pipeline)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.FrontendURL))
	r.Use(ids.Middleware)

	healthHandler.RegisterHealth(r)
	handler.RegisterRoutes(r)

	r.Handle("/*", web.Handler())

	// Login requests wait for a QR challenge and the status websocket is
	// long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("Session service shutdown incomplete", "error", err)
	}

	slog.Info("Server stopped successfully")
}
