package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Vovarama1992/relay-ai-bridge/internal/relay"
)

const (
	ModePolling = "polling"
	ModeWebhook = "webhook"

	secretHeader = "X-Telegram-Bot-Api-Secret-Token"
	errorBackoff = 3 * time.Second
)

// Bot owns the Telegram inbound side: identity discovery, the long-poll
// loop and the webhook endpoint. Both feed the same dispatcher.
type Bot struct {
	client      *Client
	policy      *relay.Policy
	dispatcher  *relay.Dispatcher
	normalizer  Normalizer
	mode        string
	pollTimeout time.Duration
	secret      string
	logger      *zap.Logger

	mu           sync.Mutex
	running      bool
	username     string
	lastUpdateID int64
	lastError    string
}

type BotOptions struct {
	Mode          string
	PollTimeout   time.Duration
	WebhookSecret string
}

func NewBot(client *Client, policy *relay.Policy, dispatcher *relay.Dispatcher, opts BotOptions, logger *zap.Logger) *Bot {
	if opts.Mode == "" {
		opts.Mode = ModePolling
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		client:      client,
		policy:      policy,
		dispatcher:  dispatcher,
		mode:        opts.Mode,
		pollTimeout: opts.PollTimeout,
		secret:      opts.WebhookSecret,
		logger:      logger,
	}
}

// Identify resolves the bot's own id and username so group activation can
// recognise replies and mentions.
func (b *Bot) Identify(ctx context.Context) error {
	me, err := b.client.GetMe(ctx)
	if err != nil {
		b.setError(err)
		return err
	}
	b.policy.SetIdentity(relay.PlatformTelegram, relay.Identity{
		ID:       strconv.FormatInt(me.ID, 10),
		Username: me.Username,
	})
	b.mu.Lock()
	b.username = me.Username
	b.mu.Unlock()
	b.logger.Info("telegram identity resolved", zap.String("username", me.Username), zap.Int64("id", me.ID))
	return nil
}

// Poll runs the getUpdates loop until ctx is cancelled. Transport errors are
// logged and retried after a short pause.
func (b *Bot) Poll(ctx context.Context) error {
	b.setRunning(true)
	defer b.setRunning(false)

	var offset int64
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, next, err := b.client.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.setError(err)
			b.logger.Warn("getUpdates failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(errorBackoff):
			}
			continue
		}
		offset = next

		for _, u := range updates {
			b.handle(ctx, u)
		}
	}
}

func (b *Bot) handle(ctx context.Context, u Update) {
	b.mu.Lock()
	if u.UpdateID > b.lastUpdateID {
		b.lastUpdateID = u.UpdateID
	}
	b.mu.Unlock()
	relay.Ingest[Update](ctx, b.dispatcher, b.normalizer, u)
}

// HandleWebhook accepts one update pushed by Telegram. It acknowledges as
// soon as the update is scheduled.
func (b *Bot) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if b.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(secretHeader)), []byte(b.secret)) != 1 {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var u Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		b.logger.Warn("webhook payload rejected", zap.Error(&relay.IngestError{Platform: relay.PlatformTelegram, Err: err}))
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	b.handle(r.Context(), u)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func RegisterRoutes(r chi.Router, b *Bot) {
	r.Post("/webhook/telegram", b.HandleWebhook)
}

func (b *Bot) setRunning(v bool) {
	b.mu.Lock()
	b.running = v
	b.mu.Unlock()
}

func (b *Bot) setError(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	b.mu.Lock()
	b.lastError = err.Error()
	b.mu.Unlock()
}

func (b *Bot) Status() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := map[string]any{
		"platform":       string(relay.PlatformTelegram),
		"mode":           b.mode,
		"running":        b.running || b.mode == ModeWebhook,
		"bot_username":   b.username,
		"last_update_id": b.lastUpdateID,
	}
	if b.lastError != "" {
		st["last_error"] = b.lastError
	}
	return st
}
