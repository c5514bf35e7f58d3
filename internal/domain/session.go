package domain

import (
	"time"
)

// AuthStatus is the authorization state of one identity's session.
type AuthStatus string

const (
	StatusUnauthenticated AuthStatus = "unauthenticated"
	StatusAwaitingQR      AuthStatus = "awaiting_qr"
	StatusAuthorized      AuthStatus = "authorized"
	StatusFailed          AuthStatus = "failed"
)

// Terminal reports whether no further transition happens within a run.
func (s AuthStatus) Terminal() bool {
	return s == StatusAuthorized || s == StatusFailed
}

// LoginStatus is the record published to the status store for polling clients.
type LoginStatus struct {
	IdentityKey string     `json:"phone"`
	Status      AuthStatus `json:"status"`
	QRURL       string     `json:"qr_login_url,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	AttemptID   string     `json:"attempt_id,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
