package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Vovarama1992/relay-ai-bridge/internal/relay"
)

const DefaultGraphURL = "https://graph.facebook.com"

// Client talks to the Graph API on behalf of one business phone number.
type Client struct {
	http          *http.Client
	baseURL       string
	version       string
	phoneNumberID string
	token         string
}

func NewClient(httpClient *http.Client, baseURL, version, phoneNumberID, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if baseURL == "" {
		baseURL = DefaultGraphURL
	}
	if version == "" {
		version = "v18.0"
	}
	return &Client{
		http:          httpClient,
		baseURL:       strings.TrimRight(baseURL, "/"),
		version:       version,
		phoneNumberID: phoneNumberID,
		token:         token,
	}
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, c.version, path)
}

func (c *Client) auth() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.token}
}

type textMessage struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

// Send implements relay.Outbound. WhatsApp has no thread concept.
func (c *Client) Send(ctx context.Context, chatID, text, _ string) error {
	msg := textMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               chatID,
		Type:             "text",
	}
	if IsGroupChat(chatID) {
		msg.RecipientType = "group"
	}
	msg.Text.Body = text
	return relay.PostJSON(ctx, c.http, c.endpoint(c.phoneNumberID+"/messages"), c.auth(), msg, nil)
}

// PhoneNumber looks up the display number of the configured phone number id.
func (c *Client) PhoneNumber(ctx context.Context) (string, error) {
	u := c.endpoint(url.PathEscape(c.phoneNumberID)) + "?fields=display_phone_number"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	for k, v := range c.auth() {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("graph http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	return out.DisplayPhoneNumber, nil
}
