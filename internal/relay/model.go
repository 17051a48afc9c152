package relay

import "time"

// State is the terminal state of one inbound event.
type State string

const (
	StateDropped        State = "dropped"
	StateShortCircuited State = "short_circuited"
	StateSent           State = "sent"
	StateFailedSent     State = "failed_sent"
)

// Outcome describes how one inbound event ended. Err carries the failure
// that was logged and absorbed on the way, if any.
type Outcome struct {
	EventID     string
	State       State
	SessionID   string
	Interaction Interaction
	Err         error
}

type ChatRequest struct {
	Message      string   `json:"message"`
	SessionID    string   `json:"session_id"`
	Platform     Platform `json:"platform,omitempty"`
	UserID       string   `json:"user_id,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
}

type ChatResponse struct {
	Response  string    `json:"response"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
}

type SessionSummary struct {
	SessionID         string     `json:"session_id"`
	Exists            bool       `json:"exists"`
	MessageCount      int        `json:"message_count"`
	UserMessages      int        `json:"user_messages"`
	AssistantMessages int        `json:"assistant_messages"`
	Platforms         []string   `json:"platforms"`
	LastActivity      *time.Time `json:"last_activity,omitempty"`
	TTLSeconds        int64      `json:"ttl_seconds"`
	Turns             []Turn     `json:"turns,omitempty"`
	Error             string     `json:"error,omitempty"`
}

type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type Health struct {
	Status    string                      `json:"status"`
	Store     ComponentHealth             `json:"store"`
	Backend   ComponentHealth             `json:"backend"`
	Platforms map[Platform]map[string]any `json:"platforms"`
	Timestamp time.Time                   `json:"timestamp"`
}

func (h Health) Healthy() bool {
	return h.Store.Healthy && h.Backend.Healthy
}
