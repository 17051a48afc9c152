package ai

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the backend answers without usable text.
var ErrEmptyResponse = errors.New("backend returned an empty response")

// AI is the completion backend. It knows nothing about platforms or sessions.
type AI interface {
	GetReply(ctx context.Context, history []Message) (string, error)
	// Ping probes backend reachability for health reporting.
	Ping(ctx context.Context) error
}

// Message is the role-tagged dialog format sent to the backend.
type Message struct {
	Role string // "user" | "assistant" | "system"
	Text string
}
