package whatsappweb

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// SelfID is the sender id the poller registers for the logged-in account.
// WhatsApp Web exposes no stable account id, so quoted messages authored by
// the account are mapped to it.
const SelfID = "self"

// Scraped is one message bubble read from the open chat.
type Scraped struct {
	ID           string `json:"id"`
	ChatName     string `json:"chat"`
	Group        bool   `json:"group"`
	Sender       string `json:"sender"`
	Text         string `json:"text"`
	Outgoing     bool   `json:"outgoing"`
	QuotedText   string `json:"quotedText"`
	QuotedFromMe bool   `json:"quotedFromMe"`
}

// Key identifies the bubble for deduplication. Bubbles without a DOM id are
// keyed by their content.
func (s Scraped) Key() string {
	if s.ID != "" {
		return s.ID
	}
	content := strings.Join([]string{s.ChatName, s.Sender, s.Text}, "\x00")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(content)).String()
}

// Driver is the browser automation surface the poller needs.
type Driver interface {
	// Unread opens chats with pending messages and returns their recent
	// incoming bubbles.
	Unread(ctx context.Context) ([]Scraped, error)
	Send(ctx context.Context, chatName, text string) error
	Close() error
}
