//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/tgcapture/internal/domain"
	"github.com/ashureev/tgcapture/internal/identity"
	"github.com/ashureev/tgcapture/internal/session"
	"github.com/ashureev/tgcapture/internal/telegram/telegramtest"
)

const testPhone = "+15551234567"

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrInvalidIdentity, http.StatusBadRequest},
		{session.ErrNoSession, http.StatusUnauthorized},
		{session.ErrNotAuthorized, http.StatusUnauthorized},
		{fmt.Errorf("wrap: %w", session.ErrDialogNotFound), http.StatusNotFound},
		{&session.ConnectError{Kind: session.ConnectUnreachable, Err: errors.New("eof")}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("rpc error"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got, _ := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

type testEnv struct {
	router *chi.Mux
	svc    *session.Service
	ids    *identity.Store
	dialer *telegramtest.Dialer
}

func newTestEnv(t *testing.T, dialer *telegramtest.Dialer) *testEnv {
	t.Helper()
	svc := session.NewService(dialer, nil, session.Options{})
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	ids := identity.NewStore("test-session-secret-32-bytes-long", false)
	h := NewHandler(svc, ids, Options{IsDev: true})

	r := chi.NewRouter()
	r.Use(ids.Middleware)
	h.RegisterRoutes(r)
	return &testEnv{router: r, svc: svc, ids: ids, dialer: dialer}
}

// cookiesFor returns identity cookies logged in as phone.
func (e *testEnv) cookiesFor(t *testing.T, phone string) []*http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	if err := e.ids.SetPhone(w, httptest.NewRequest(http.MethodPost, "/api/login", nil), phone); err != nil {
		t.Fatalf("SetPhone() error = %v", err)
	}
	return w.Result().Cookies()
}

func authorizedDialer() *telegramtest.Dialer {
	return telegramtest.NewDialer(func(key string) *telegramtest.Client {
		c := telegramtest.NewClient(key, "tg://login?token=abc")
		c.SetAuthorized(true)
		c.SetDialogs(
			[]domain.Dialog{{ID: 7, Kind: domain.PeerChat, Title: "Team"}},
			map[int64][]domain.ChatMessage{7: {{ID: 1, Username: "alice", Text: "hi"}}},
		)
		return c
	})
}

func (e *testEnv) do(t *testing.T, method, target string, body interface{}, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) domain.LoginStatus {
	t.Helper()
	var st domain.LoginStatus
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	return st
}

func TestLogin_AwaitingQR(t *testing.T) {
	env := newTestEnv(t, telegramtest.NewDialer(nil))

	w := env.do(t, http.MethodPost, "/api/login", map[string]string{"phone": testPhone}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	cookies := w.Result().Cookies()
	st := decodeStatus(t, w)
	if st.Status != domain.StatusAwaitingQR || st.QRURL != "tg://login?token=abc" {
		t.Fatalf("login response = %+v", st)
	}
	if len(cookies) == 0 {
		t.Fatal("login did not set the identity cookie")
	}

	w = env.do(t, http.MethodGet, "/api/login/status", nil, cookies)
	if got := decodeStatus(t, w); got.Status != domain.StatusAwaitingQR {
		t.Errorf("status via cookie = %s, want awaiting_qr", got.Status)
	}

	w = env.do(t, http.MethodGet, "/api/login/qr.png", nil, cookies)
	if w.Code != http.StatusOK {
		t.Fatalf("qr.png status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("qr.png body is not a PNG")
	}
}

func TestLogin_InvalidInput(t *testing.T) {
	env := newTestEnv(t, telegramtest.NewDialer(nil))

	w := env.do(t, http.MethodPost, "/api/login", map[string]string{"phone": "alice"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid phone status = %d, want 400", w.Code)
	}

	r := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}

	w = env.do(t, http.MethodGet, "/api/login/status", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status without login = %d, want 401", w.Code)
	}
}

func TestLogin_QRCodeWithoutChallenge(t *testing.T) {
	env := newTestEnv(t, telegramtest.NewDialer(nil))

	w := env.do(t, http.MethodGet, "/api/login/qr.png", nil, env.cookiesFor(t, testPhone))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestLoginRoutesIgnorePhoneQuery(t *testing.T) {
	env := newTestEnv(t, telegramtest.NewDialer(nil))

	w := env.do(t, http.MethodPost, "/api/login", map[string]string{"phone": testPhone}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}

	for _, target := range []string{"/api/login/status?phone=%2B15551234567", "/api/login/qr.png?phone=%2B15551234567"} {
		if w := env.do(t, http.MethodGet, target, nil, nil); w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without cookie = %d, want 401", target, w.Code)
		}
	}
}

func TestChatRoutes(t *testing.T) {
	env := newTestEnv(t, authorizedDialer())

	w := env.do(t, http.MethodPost, "/api/login", map[string]string{"phone": testPhone}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	cookies := w.Result().Cookies()
	if st := decodeStatus(t, w); st.Status != domain.StatusAuthorized {
		t.Fatalf("login status = %s, want authorized", st.Status)
	}

	w = env.do(t, http.MethodGet, "/api/dialogs", nil, cookies)
	if w.Code != http.StatusOK {
		t.Fatalf("dialogs status = %d, body = %s", w.Code, w.Body.String())
	}
	var dialogs struct {
		Dialogs []domain.Dialog `json:"dialogs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&dialogs); err != nil {
		t.Fatalf("decode dialogs: %v", err)
	}
	if len(dialogs.Dialogs) != 1 || dialogs.Dialogs[0].Title != "Team" {
		t.Errorf("dialogs = %+v", dialogs.Dialogs)
	}

	w = env.do(t, http.MethodGet, "/api/messages?title=Team", nil, cookies)
	if w.Code != http.StatusOK {
		t.Fatalf("messages status = %d, body = %s", w.Code, w.Body.String())
	}
	var history struct {
		Messages []domain.ChatMessage `json:"messages"`
	}
	if err := json.NewDecoder(w.Body).Decode(&history); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(history.Messages) != 1 || history.Messages[0].Text != "hi" {
		t.Errorf("messages = %+v", history.Messages)
	}

	w = env.do(t, http.MethodGet, "/api/messages?title=Nowhere", nil, cookies)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown chat status = %d, want 404", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/messages", map[string]string{"target": "@bob", "text": "hello"}, cookies)
	if w.Code != http.StatusOK {
		t.Fatalf("send status = %d, body = %s", w.Code, w.Body.String())
	}
	sent := env.dialer.Clients(testPhone)[0].Sent()
	if len(sent) != 1 || sent[0].Target != "@bob" {
		t.Errorf("sent = %+v", sent)
	}

	w = env.do(t, http.MethodPost, "/api/messages", map[string]string{"target": "@bob"}, cookies)
	if w.Code != http.StatusBadRequest {
		t.Errorf("send without text status = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/logout", nil, cookies)
	if w.Code != http.StatusOK {
		t.Fatalf("logout status = %d", w.Code)
	}
	if env.svc.GetSession(testPhone) != nil {
		t.Error("session survived logout")
	}

	w = env.do(t, http.MethodGet, "/api/dialogs", nil, cookies)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("dialogs after logout status = %d, want 401", w.Code)
	}
}

func TestChatRoutesRequireLogin(t *testing.T) {
	env := newTestEnv(t, authorizedDialer())

	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/api/dialogs"},
		{http.MethodGet, "/api/messages?title=Team"},
		{http.MethodPost, "/api/messages"},
	} {
		w := env.do(t, tc.method, tc.target, map[string]string{"target": "@bob", "text": "x"}, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", tc.method, tc.target, w.Code)
		}
	}
}

func TestLogoutActsOnlyOnCookieIdentity(t *testing.T) {
	env := newTestEnv(t, authorizedDialer())

	w := env.do(t, http.MethodPost, "/api/login", map[string]string{"phone": testPhone}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/api/logout?phone=%2B15551234567", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("logout status = %d", w.Code)
	}
	if env.svc.GetSession(testPhone) == nil {
		t.Error("logout without a cookie ended another identity's session")
	}

	w = env.do(t, http.MethodPost, "/api/logout", nil, env.cookiesFor(t, "+15550000000"))
	if w.Code != http.StatusOK {
		t.Fatalf("logout status = %d", w.Code)
	}
	if env.svc.GetSession(testPhone) == nil {
		t.Error("logout as a different identity ended this session")
	}
}

func TestLogoutWithoutSession(t *testing.T) {
	env := newTestEnv(t, telegramtest.NewDialer(nil))

	w := env.do(t, http.MethodPost, "/api/logout", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("logout status = %d, want 200", w.Code)
	}
}
