package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession is returned when an identity has no registered session.
	ErrNoSession = errors.New("no active session")
	// ErrNotAuthorized is returned when a registered session is no longer logged in.
	ErrNotAuthorized = errors.New("session not authorized")
	// ErrDialogNotFound is returned when no dialog matches the requested title.
	ErrDialogNotFound = errors.New("dialog not found")
	// ErrHandleInUse is returned when a connection is already registered under another identity.
	ErrHandleInUse = errors.New("connection registered to another identity")
	// ErrInvalidIdentity is returned for an empty identity key.
	ErrInvalidIdentity = errors.New("identity key is required")
)

// ConnectErrorKind classifies connection failures.
type ConnectErrorKind string

const (
	// ConnectUnreachable means the transient failure persisted across the retry.
	ConnectUnreachable ConnectErrorKind = "unreachable"
	// ConnectRejected means the service refused the connection outright.
	ConnectRejected ConnectErrorKind = "rejected"
)

// ConnectError is returned when a connection cannot be established.
type ConnectError struct {
	IdentityKey string
	Kind        ConnectErrorKind
	Attempts    int
	Err         error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %s after %d attempt(s): %v", e.IdentityKey, e.Kind, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AuthChallengeError is returned when a QR challenge could not be issued.
type AuthChallengeError struct {
	IdentityKey string
	Err         error
}

func (e *AuthChallengeError) Error() string {
	return fmt.Sprintf("qr challenge for %s: %v", e.IdentityKey, e.Err)
}

func (e *AuthChallengeError) Unwrap() error { return e.Err }

// AuthWaitError is returned when waiting for QR confirmation failed or was cancelled.
type AuthWaitError struct {
	IdentityKey string
	Err         error
}

func (e *AuthWaitError) Error() string {
	return fmt.Sprintf("qr confirmation for %s: %v", e.IdentityKey, e.Err)
}

func (e *AuthWaitError) Unwrap() error { return e.Err }
