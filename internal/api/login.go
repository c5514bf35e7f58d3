package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/tgcapture/internal/domain"
	"github.com/ashureev/tgcapture/internal/identity"
	"github.com/ashureev/tgcapture/internal/qrcode"
)

const (
	loginWaitTimeout = 30 * time.Second
	qrImageSize      = 256
)

type loginRequest struct {
	Phone string `json:"phone"`
}

// Login starts a QR login for a phone and returns once a challenge is ready
// or the login has settled.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_body")
		return
	}
	phone, ok := identity.NormalizePhone(req.Phone)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid_phone")
		return
	}

	slog.Info("Login requested", "identity", phone, "ip", identity.IPFromRequest(r))

	ctx, cancel := context.WithTimeout(r.Context(), loginWaitTimeout)
	defer cancel()

	st, err := h.svc.BeginLogin(ctx, phone)
	if err != nil {
		status, msg := errorStatus(err)
		slog.Error("Login failed", "identity", phone, "error", err)
		Error(w, status, msg)
		return
	}

	if err := h.ids.SetPhone(w, r, phone); err != nil {
		slog.Error("Failed to set identity cookie", "identity", phone, "error", err)
		Error(w, http.StatusInternalServerError, "cookie_error")
		return
	}

	JSON(w, http.StatusOK, st)
}

// LoginStatus returns the latest login status of the logged-in phone.
func (h *Handler) LoginStatus(w http.ResponseWriter, r *http.Request) {
	phone, ok := currentPhone(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "not_logged_in")
		return
	}
	JSON(w, http.StatusOK, h.svc.LoginStatus(phone))
}

// LoginQRCode renders the pending QR challenge of the logged-in phone as a PNG.
func (h *Handler) LoginQRCode(w http.ResponseWriter, r *http.Request) {
	phone, ok := currentPhone(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "not_logged_in")
		return
	}

	st := h.svc.LoginStatus(phone)
	if st.Status != domain.StatusAwaitingQR || st.QRURL == "" {
		Error(w, http.StatusNotFound, "no_pending_challenge")
		return
	}

	png, err := qrcode.PNG(st.QRURL, qrImageSize)
	if err != nil {
		slog.Error("Failed to render QR image", "identity", phone, "error", err)
		Error(w, http.StatusInternalServerError, "qr_render_failed")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		slog.Debug("Failed to write QR image", "error", err)
	}
}

// Logout ends the session of the logged-in phone and clears the cookie. It
// succeeds when there is no session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if phone, ok := currentPhone(r); ok {
		if err := h.svc.Logout(r.Context(), phone); err != nil {
			slog.Warn("Logout cleanup failed", "identity", phone, "error", err)
		}
	}

	if err := h.ids.Clear(w, r); err != nil {
		slog.Warn("Failed to clear identity cookie", "error", err)
	}

	JSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
