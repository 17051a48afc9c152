package telegram

import (
	"strconv"
	"strings"

	"github.com/Vovarama1992/relay-ai-bridge/internal/relay"
)

type Normalizer struct{}

func (Normalizer) Normalize(u Update) (relay.NormalizedMessage, bool, error) {
	msg := u.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return relay.NormalizedMessage{}, false, nil
	}
	if msg.Chat.ID == 0 || msg.From.ID == 0 || msg.From.IsBot {
		return relay.NormalizedMessage{}, false, nil
	}
	if msg.Text == "" || msg.Chat.Type == "channel" {
		return relay.NormalizedMessage{}, false, nil
	}

	out := relay.NormalizedMessage{
		Platform:          relay.PlatformTelegram,
		ChatKind:          relay.ChatGroup,
		ChatID:            strconv.FormatInt(msg.Chat.ID, 10),
		SenderID:          strconv.FormatInt(msg.From.ID, 10),
		SenderDisplayName: displayName(msg.From),
		Text:              msg.Text,
	}
	if msg.Chat.Type == "private" {
		out.ChatKind = relay.ChatDirect
	}
	if msg.IsTopicMessage && msg.MessageThreadID != 0 {
		out.ThreadID = strconv.FormatInt(msg.MessageThreadID, 10)
	}

	// Replies to the topic's service message are not real replies.
	if r := msg.ReplyTo; r != nil && r.From != nil && r.MessageID != msg.MessageThreadID {
		out.ReplyTargetSenderID = strconv.FormatInt(r.From.ID, 10)
		out.ReplyTargetText = r.Text
	}

	for _, e := range msg.Entities {
		token := sliceByUTF16(msg.Text, e.Offset, e.Length)
		switch e.Type {
		case "mention":
			out.Mentions = append(out.Mentions, relay.Mention{
				Username: strings.TrimPrefix(token, "@"),
				Token:    token,
			})
		case "text_mention":
			if e.User == nil {
				continue
			}
			out.Mentions = append(out.Mentions, relay.Mention{
				UserID:   strconv.FormatInt(e.User.ID, 10),
				Username: e.User.Username,
				Token:    token,
			})
		}
	}
	return out, true, nil
}
