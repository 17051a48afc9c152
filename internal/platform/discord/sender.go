package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// messenger is the subset of *discordgo.Session used for outbound traffic.
type messenger interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

type Sender struct {
	api messenger
}

func NewSender(api messenger) *Sender {
	return &Sender{api: api}
}

// Send posts to the channel. Discord threads are channels, so threadID is
// not needed.
func (s *Sender) Send(ctx context.Context, chatID, text, _ string) error {
	_, err := s.api.ChannelMessageSend(chatID, text, discordgo.WithContext(ctx))
	return err
}

func (s *Sender) Typing(ctx context.Context, chatID, _ string) error {
	return s.api.ChannelTyping(chatID, discordgo.WithContext(ctx))
}
