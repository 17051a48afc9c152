package relay

import (
	"errors"
	"fmt"
)

var (
	ErrNoSender       = errors.New("no outbound sender registered")
	ErrInvalidRequest = errors.New("message and session_id are required")
)

// IngestError marks a malformed inbound event. The event is dropped.
type IngestError struct {
	Platform Platform
	Err      error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Platform, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// BackendError is returned when the completion call fails: timeout,
// non-success status or an unusable response.
type BackendError struct {
	SessionID string
	Err       error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend session=%s: %v", e.SessionID, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// StoreError wraps a conversation store failure. Reads degrade to an empty
// context and writes are skipped.
type StoreError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s session=%s: %v", e.Op, e.SessionID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

type SendError struct {
	Platform Platform
	ChatID   string
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s chat=%s: %v", e.Platform, e.ChatID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
