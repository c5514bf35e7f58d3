// Package api provides HTTP handlers for the capture API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/tgcapture/internal/domain"
	"github.com/ashureev/tgcapture/internal/identity"
	"github.com/ashureev/tgcapture/internal/session"
)

// SessionService is the session layer the handlers drive.
type SessionService interface {
	BeginLogin(ctx context.Context, identityKey string) (domain.LoginStatus, error)
	LoginStatus(identityKey string) domain.LoginStatus
	WatchStatus(identityKey string) (<-chan domain.LoginStatus, func())
	Logout(ctx context.Context, identityKey string) error
	ListDialogs(ctx context.Context, identityKey string, limit int) ([]domain.Dialog, error)
	FetchChatMessages(ctx context.Context, identityKey, chatTitle string, limit int) ([]domain.ChatMessage, error)
	SendMessage(ctx context.Context, identityKey, target, text string) error
	Sessions() []string
}

// Options configures a Handler.
type Options struct {
	DialogLimit   int
	HistoryLimit  int
	AllowedOrigin string
	IsDev         bool
}

// Handler serves the login, chat and status endpoints.
type Handler struct {
	svc  SessionService
	ids  *identity.Store
	opts Options
}

// NewHandler creates a new Handler.
func NewHandler(svc SessionService, ids *identity.Store, opts Options) *Handler {
	if opts.DialogLimit <= 0 {
		opts.DialogLimit = 15
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	return &Handler{svc: svc, ids: ids, opts: opts}
}

// RegisterRoutes registers the API and websocket routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Get("/login/status", h.LoginStatus)
		r.Get("/login/qr.png", h.LoginQRCode)
		r.Post("/logout", h.Logout)
		r.Get("/dialogs", h.Dialogs)
		r.Get("/messages", h.Messages)
		r.Post("/messages", h.SendMessage)
	})
	r.Get("/ws/login/status", h.StatusStream)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errorStatus maps session layer errors to an HTTP status and client message.
func errorStatus(err error) (int, string) {
	var connErr *session.ConnectError
	switch {
	case errors.Is(err, session.ErrInvalidIdentity):
		return http.StatusBadRequest, "invalid_phone"
	case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrNotAuthorized):
		return http.StatusUnauthorized, "not_logged_in"
	case errors.Is(err, session.ErrDialogNotFound):
		return http.StatusNotFound, "chat_not_found"
	case errors.As(err, &connErr):
		return http.StatusBadGateway, "telegram_unreachable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusBadGateway, "telegram_error"
	}
}

// currentPhone returns the logged-in identity key of a request. Status,
// challenge and logout routes act only on the cookie identity, never on a
// caller supplied phone.
func currentPhone(r *http.Request) (string, bool) {
	phone := identity.PhoneFromContext(r.Context())
	return phone, phone != ""
}
