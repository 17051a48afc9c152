package discord

import (
	"errors"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/Vovarama1992/relay-ai-bridge/internal/relay"
)

// Normalizer converts gateway MESSAGE_CREATE events. When GuildID or
// ChannelID is set, guild messages outside them are skipped; DMs always
// pass.
type Normalizer struct {
	GuildID   string
	ChannelID string
}

func (n Normalizer) Normalize(m *discordgo.MessageCreate) (relay.NormalizedMessage, bool, error) {
	if m == nil || m.Message == nil {
		return relay.NormalizedMessage{}, false, errors.New("message is required")
	}
	if m.Author == nil || m.Author.Bot || m.Author.ID == "" || m.ChannelID == "" {
		return relay.NormalizedMessage{}, false, nil
	}
	if m.Type != discordgo.MessageTypeDefault && m.Type != discordgo.MessageTypeReply {
		return relay.NormalizedMessage{}, false, nil
	}
	if strings.TrimSpace(m.Content) == "" && len(m.Attachments) > 0 {
		return relay.NormalizedMessage{}, false, nil
	}

	direct := m.GuildID == ""
	if !direct {
		if n.GuildID != "" && m.GuildID != n.GuildID {
			return relay.NormalizedMessage{}, false, nil
		}
		if n.ChannelID != "" && m.ChannelID != n.ChannelID {
			return relay.NormalizedMessage{}, false, nil
		}
	}

	out := relay.NormalizedMessage{
		Platform:          relay.PlatformDiscord,
		ChatKind:          relay.ChatGroup,
		ChatID:            m.ChannelID,
		SenderID:          m.Author.ID,
		SenderDisplayName: displayName(m.Message),
		Text:              m.Content,
	}
	if direct {
		out.ChatKind = relay.ChatDirect
	}

	if ref := m.ReferencedMessage; ref != nil && ref.Author != nil {
		out.ReplyTargetSenderID = ref.Author.ID
		out.ReplyTargetText = ref.Content
	}

	for _, u := range m.Mentions {
		if u == nil || u.ID == "" {
			continue
		}
		token := "<@" + u.ID + ">"
		if nick := "<@!" + u.ID + ">"; strings.Contains(m.Content, nick) {
			token = nick
		}
		out.Mentions = append(out.Mentions, relay.Mention{
			UserID:   u.ID,
			Username: u.Username,
			Token:    token,
		})
	}
	return out, true, nil
}

func displayName(m *discordgo.Message) string {
	if m.Member != nil && strings.TrimSpace(m.Member.Nick) != "" {
		return strings.TrimSpace(m.Member.Nick)
	}
	if m.Author == nil {
		return ""
	}
	if g := strings.TrimSpace(m.Author.GlobalName); g != "" {
		return g
	}
	return m.Author.Username
}
