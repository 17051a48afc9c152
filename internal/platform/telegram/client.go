package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Vovarama1992/relay-ai-bridge/internal/relay"
)

const DefaultBaseURL = "https://api.telegram.org"

// Client is a minimal Bot API client: identity, long polling, text
// messages and chat actions.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

func (c *Client) method(name string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, name)
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	Result      T      `json:"result"`
}

func (c *Client) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.Unmarshal(raw, out)
}

func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var out apiResponse[User]
	if err := c.get(ctx, c.method("getMe"), &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, fmt.Errorf("telegram getMe: %s", okFalse(out.Description))
	}
	return &out.Result, nil
}

// GetUpdates long-polls for updates and returns the next offset to request.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	url := fmt.Sprintf("%s?timeout=%d", c.method("getUpdates"), secs)
	if offset > 0 {
		url += fmt.Sprintf("&offset=%d", offset)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()

	var out apiResponse[[]Update]
	if err := c.get(reqCtx, url, &out); err != nil {
		return nil, offset, err
	}
	if !out.OK {
		return nil, offset, fmt.Errorf("telegram getUpdates: %s", okFalse(out.Description))
	}

	next := offset
	for _, u := range out.Result {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return out.Result, next, nil
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	MessageThreadID       int64  `json:"message_thread_id,omitempty"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type sendChatActionRequest struct {
	ChatID          string `json:"chat_id"`
	MessageThreadID int64  `json:"message_thread_id,omitempty"`
	Action          string `json:"action"`
}

func (c *Client) post(ctx context.Context, name string, body any) error {
	var out apiResponse[json.RawMessage]
	if err := relay.PostJSON(ctx, c.http, c.method(name), nil, body, &out); err != nil {
		return fmt.Errorf("telegram %s: %w", name, err)
	}
	if !out.OK {
		return fmt.Errorf("telegram %s: %s", name, okFalse(out.Description))
	}
	return nil
}

func (c *Client) SendMessage(ctx context.Context, chatID string, threadID int64, text, parseMode string) error {
	return c.post(ctx, "sendMessage", sendMessageRequest{
		ChatID:                chatID,
		MessageThreadID:       threadID,
		Text:                  text,
		ParseMode:             parseMode,
		DisableWebPagePreview: true,
	})
}

func (c *Client) SendChatAction(ctx context.Context, chatID string, threadID int64, action string) error {
	if action == "" {
		action = "typing"
	}
	return c.post(ctx, "sendChatAction", sendChatActionRequest{
		ChatID:          chatID,
		MessageThreadID: threadID,
		Action:          action,
	})
}

func okFalse(desc string) string {
	if desc == "" {
		return "ok=false"
	}
	return "ok=false: " + desc
}
