// Package identity tracks which Telegram identity a browser is logged in as.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/sessions"
)

const (
	CookieName   = "tgcapture_session"
	phoneKey     = "phone"
	cookieMaxAge = 7 * 24 * time.Hour
)

type contextKey int

const (
	phoneCtxKey contextKey = iota
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{5,20}$`)

// Store persists the logged-in identity key in a signed cookie.
type Store struct {
	cookies *sessions.CookieStore
}

// NewStore creates a cookie store signed with secret.
func NewStore(secret string, secure bool) *Store {
	cookies := sessions.NewCookieStore([]byte(secret))
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &Store{cookies: cookies}
}

// NormalizePhone trims formatting from a phone identity key and reports
// whether the result is usable. Keys are always returned in +digits form so a
// number maps to one identity with or without its leading plus.
func NormalizePhone(phone string) (string, bool) {
	phone = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(strings.TrimSpace(phone))
	if !phonePattern.MatchString(phone) {
		return "", false
	}
	return "+" + strings.TrimPrefix(phone, "+"), true
}

// PhoneFromContext extracts the logged-in identity key from the request context.
func PhoneFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(phoneCtxKey).(string); ok {
		return v
	}
	return ""
}

// WithPhone returns a copy of ctx carrying phone.
func WithPhone(ctx context.Context, phone string) context.Context {
	return context.WithValue(ctx, phoneCtxKey, phone)
}

// Phone reads the identity key from the request cookie.
func (s *Store) Phone(r *http.Request) string {
	session, err := s.cookies.Get(r, CookieName)
	if err != nil {
		return ""
	}
	phone, _ := session.Values[phoneKey].(string)
	return phone
}

// SetPhone stores phone in the response cookie.
func (s *Store) SetPhone(w http.ResponseWriter, r *http.Request, phone string) error {
	// A cookie signed with a rotated secret fails to decode; start over.
	session, _ := s.cookies.Get(r, CookieName)
	session.Values[phoneKey] = phone
	return session.Save(r, w)
}

// Clear expires the identity cookie.
func (s *Store) Clear(w http.ResponseWriter, r *http.Request) error {
	session, _ := s.cookies.Get(r, CookieName)
	delete(session.Values, phoneKey)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// Middleware injects the cookie identity, if any, into the request context.
func (s *Store) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if phone := s.Phone(r); phone != "" {
			r = r.WithContext(WithPhone(r.Context(), phone))
		}
		next.ServeHTTP(w, r)
	})
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
