package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/tgcapture/internal/identity"
)

const maxListLimit = 200

type sendRequest struct {
	Target string `json:"target"`
	Text   string `json:"text"`
}

// Dialogs lists the logged-in phone's conversations.
func (h *Handler) Dialogs(w http.ResponseWriter, r *http.Request) {
	phone := identity.PhoneFromContext(r.Context())
	if phone == "" {
		Error(w, http.StatusUnauthorized, "not_logged_in")
		return
	}

	dialogs, err := h.svc.ListDialogs(r.Context(), phone, limitParam(r, h.opts.DialogLimit))
	if err != nil {
		status, msg := errorStatus(err)
		slog.Warn("Failed to list dialogs", "identity", phone, "error", err)
		Error(w, status, msg)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{"dialogs": dialogs})
}

// Messages returns recent messages of the chat named by the title parameter.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	phone := identity.PhoneFromContext(r.Context())
	if phone == "" {
		Error(w, http.StatusUnauthorized, "not_logged_in")
		return
	}
	title := r.URL.Query().Get("title")
	if strings.TrimSpace(title) == "" {
		Error(w, http.StatusBadRequest, "title_required")
		return
	}

	messages, err := h.svc.FetchChatMessages(r.Context(), phone, title, limitParam(r, h.opts.HistoryLimit))
	if err != nil {
		status, msg := errorStatus(err)
		slog.Warn("Failed to fetch messages", "identity", phone, "title", title, "error", err)
		Error(w, status, msg)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"chat_title": title,
		"messages":   messages,
	})
}

// SendMessage sends a text message from the logged-in phone.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	phone := identity.PhoneFromContext(r.Context())
	if phone == "" {
		Error(w, http.StatusUnauthorized, "not_logged_in")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_body")
		return
	}
	req.Target = strings.TrimSpace(req.Target)
	if req.Target == "" || strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "target_and_text_required")
		return
	}

	if err := h.svc.SendMessage(r.Context(), phone, req.Target, req.Text); err != nil {
		status, msg := errorStatus(err)
		slog.Warn("Failed to send message", "identity", phone, "target", req.Target, "error", err)
		Error(w, status, msg)
		return
	}

	JSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func limitParam(r *http.Request, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return fallback
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
