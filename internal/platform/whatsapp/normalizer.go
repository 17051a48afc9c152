package whatsapp

import (
	"errors"
	"strings"

	"github.com/Vovarama1992/relay-ai-bridge/internal/relay"
)

const groupSuffix = "@g.us"

// IsGroupChat reports whether a WhatsApp chat id names a group.
func IsGroupChat(chatID string) bool {
	return strings.HasSuffix(chatID, groupSuffix)
}

type Normalizer struct{}

func (Normalizer) Normalize(in Inbound) (relay.NormalizedMessage, bool, error) {
	m := in.Message
	if m.Type != "text" {
		return relay.NormalizedMessage{}, false, nil
	}
	if m.Text == nil {
		return relay.NormalizedMessage{}, false, errors.New("text message without body")
	}
	if m.From == "" {
		return relay.NormalizedMessage{}, false, nil
	}

	out := relay.NormalizedMessage{
		Platform:          relay.PlatformWhatsAppAPI,
		ChatKind:          relay.ChatDirect,
		ChatID:            m.From,
		SenderID:          m.From,
		SenderDisplayName: profileName(in.Contacts, m.From),
		Text:              m.Text.Body,
	}
	if IsGroupChat(m.GroupID) {
		out.ChatKind = relay.ChatGroup
		out.ChatID = m.GroupID
	}
	if m.Context != nil && m.Context.From != "" {
		out.ReplyTargetSenderID = digits(m.Context.From)
	}
	return out, true, nil
}

func profileName(contacts []Contact, waID string) string {
	for _, c := range contacts {
		if c.WaID == waID {
			return strings.TrimSpace(c.Profile.Name)
		}
	}
	if len(contacts) == 1 {
		return strings.TrimSpace(contacts[0].Profile.Name)
	}
	return ""
}

// digits keeps only 0-9 so "+1 555-0100" and "15550100" compare equal.
func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
