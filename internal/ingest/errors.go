package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingSender is returned for an event without a sender id.
	ErrMissingSender = errors.New("event has no sender id")
	// ErrMissingChat is returned for an event without a chat id.
	ErrMissingChat = errors.New("event has no chat id")
)

// Stage names where in the pipeline an event failed.
type Stage string

const (
	StageResolve Stage = "resolve"
	StagePersist Stage = "persist"
	StagePanic   Stage = "panic"
)

// IngestionError describes a dropped inbound event. It is only ever logged.
type IngestionError struct {
	IdentityKey string
	Stage       Stage
	ChatID      int64
	SenderID    int64
	Err         error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %s chat=%d sender=%d: %v", e.IdentityKey, e.Stage, e.ChatID, e.SenderID, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }
