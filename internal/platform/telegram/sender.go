package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Sender delivers plain text first and retries once with MarkdownV2
// escaping when Telegram rejects the message.
type Sender struct {
	client *Client
}

func NewSender(client *Client) *Sender {
	return &Sender{client: client}
}

func parseThread(threadID string) (int64, error) {
	if threadID == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(threadID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("thread id %q: %w", threadID, err)
	}
	return id, nil
}

func (s *Sender) Send(ctx context.Context, chatID, text, threadID string) error {
	thread, err := parseThread(threadID)
	if err != nil {
		return err
	}

	plainErr := s.client.SendMessage(ctx, chatID, thread, text, "")
	if plainErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return plainErr
	}
	if err := s.client.SendMessage(ctx, chatID, thread, EscapeMarkdownV2(text), "MarkdownV2"); err != nil {
		return fmt.Errorf("plain: %v; markdownv2: %w", plainErr, err)
	}
	return nil
}

func (s *Sender) Typing(ctx context.Context, chatID, threadID string) error {
	thread, err := parseThread(threadID)
	if err != nil {
		return err
	}
	return s.client.SendChatAction(ctx, chatID, thread, "typing")
}

const markdownV2Special = "_*[]()~`>#+-=|{}.!\\"

// EscapeMarkdownV2 escapes every character MarkdownV2 treats as markup.
func EscapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 16)
	for _, r := range text {
		if strings.ContainsRune(markdownV2Special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
