package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/tgcapture/internal/domain"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamPingInterval = 20 * time.Second
)

// StatusStream pushes login status changes of the logged-in phone over a
// websocket until the login reaches a terminal state or the client goes away.
func (h *Handler) StatusStream(w http.ResponseWriter, r *http.Request) {
	phone, ok := currentPhone(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "not_logged_in")
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	// Subscribe before upgrading so no transition is missed.
	updates, stop := h.svc.WatchStatus(phone)
	defer stop()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "identity", phone)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "identity", phone)
		}
	}()

	// The client never sends data; CloseRead cancels ctx once it disconnects.
	ctx := ws.CloseRead(r.Context())

	current := h.svc.LoginStatus(phone)
	if err := writeStatus(ctx, ws, current); err != nil {
		slog.Debug("Failed to send initial status", "error", err, "identity", phone)
		return
	}
	if current.Status.Terminal() {
		return
	}

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Status stream closed by client", "identity", phone)
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Debug("Status stream ping failed", "error", err, "identity", phone)
				return
			}
		case st := <-updates:
			if err := writeStatus(ctx, ws, st); err != nil {
				slog.Debug("Failed to send status", "error", err, "identity", phone)
				return
			}
			if st.Status.Terminal() {
				return
			}
		}
	}
}

func writeStatus(ctx context.Context, ws *websocket.Conn, st domain.LoginStatus) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, st)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	if origin == h.opts.AllowedOrigin {
		return true
	}
	if origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}
