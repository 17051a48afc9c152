package relay

import (
	"context"
	"time"
)

type Platform string

const (
	PlatformTelegram    Platform = "telegram"
	PlatformDiscord     Platform = "discord"
	PlatformWhatsAppAPI Platform = "whatsapp_api"
	PlatformWhatsAppWeb Platform = "whatsapp_web"
	// PlatformAPI tags turns written through the REST chat endpoint.
	PlatformAPI Platform = "api"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformTelegram, PlatformDiscord, PlatformWhatsAppAPI, PlatformWhatsAppWeb, PlatformAPI:
		return true
	default:
		return false
	}
}

type ChatKind string

const (
	ChatDirect ChatKind = "direct"
	ChatGroup  ChatKind = "group"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Mention is a native mention entity found in the message body.
// Token is the literal substring as it appears in Text.
type Mention struct {
	UserID   string
	Username string
	Token    string
}

// NormalizedMessage is the platform-independent form of one inbound event.
// It is built once by a platform normalizer and never mutated afterwards.
type NormalizedMessage struct {
	Platform          Platform
	ChatKind          ChatKind
	ChatID            string
	ThreadID          string
	SenderID          string
	SenderDisplayName string
	Text              string

	ReplyTargetSenderID string
	ReplyTargetText     string
	Mentions            []Mention
}

func (m NormalizedMessage) IsDirect() bool {
	return m.ChatKind == ChatDirect
}

// Turn is one role-tagged entry of a session's history.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Platform  Platform  `json:"platform,omitempty"`
	SenderID  string    `json:"sender_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the conversation store. Implementations must make Append atomic
// per session id: concurrent appends never lose turns.
type Store interface {
	GetContext(ctx context.Context, sessionID string) ([]Turn, error)
	Append(ctx context.Context, sessionID string, turns ...Turn) error
	Clear(ctx context.Context, sessionID string) (bool, error)
	ListSessionIDs(ctx context.Context) ([]string, error)
	// TTL returns the remaining lifetime, or zero when the session does not exist.
	TTL(ctx context.Context, sessionID string) (time.Duration, error)
	Ping(ctx context.Context) error
	Close() error
}

// Outbound delivers text to one platform. Calls may be retried by the caller.
type Outbound interface {
	Send(ctx context.Context, chatID, text, threadID string) error
}

// Typer is implemented by senders that can show a typing indicator.
type Typer interface {
	Typing(ctx context.Context, chatID, threadID string) error
}

// Normalizer converts one raw platform event. ok=false means the event is
// not a processable text message; err is reserved for malformed input.
type Normalizer[T any] interface {
	Normalize(raw T) (msg NormalizedMessage, ok bool, err error)
}

// Service orchestrates normalized inbound messages and answers session queries.
type Service interface {
	HandleIncoming(ctx context.Context, msg NormalizedMessage) Outcome
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)

	SessionSummary(ctx context.Context, sessionID string) SessionSummary
	ClearSession(ctx context.Context, sessionID string) (bool, error)
	ListSessions(ctx context.Context) ([]string, error)
	Health(ctx context.Context) Health

	RegisterSender(p Platform, out Outbound)
	RegisterStatus(p Platform, fn StatusFunc)
}

// StatusFunc reports listener state for the health and status endpoints.
type StatusFunc func() map[string]any
