package whatsappweb

import (
	"errors"
	"strings"

	"github.com/Vovarama1992/relay-ai-bridge/internal/relay"
)

type Normalizer struct{}

func (Normalizer) Normalize(s Scraped) (relay.NormalizedMessage, bool, error) {
	if s.Outgoing {
		return relay.NormalizedMessage{}, false, nil
	}
	if strings.TrimSpace(s.ChatName) == "" {
		return relay.NormalizedMessage{}, false, errors.New("scraped message without chat")
	}
	text := strings.TrimSpace(s.Text)
	if text == "" {
		return relay.NormalizedMessage{}, false, nil
	}

	out := relay.NormalizedMessage{
		Platform: relay.PlatformWhatsAppWeb,
		ChatKind: relay.ChatDirect,
		ChatID:   s.ChatName,
		Text:     text,
	}
	if s.Group {
		if strings.TrimSpace(s.Sender) == "" {
			return relay.NormalizedMessage{}, false, nil
		}
		out.ChatKind = relay.ChatGroup
		out.SenderID = s.Sender
		out.SenderDisplayName = s.Sender
	} else {
		// Private chats are titled with the contact's name.
		out.SenderID = s.ChatName
		out.SenderDisplayName = s.ChatName
	}
	if s.QuotedFromMe {
		out.ReplyTargetSenderID = SelfID
		out.ReplyTargetText = s.QuotedText
	}
	return out, true, nil
}
