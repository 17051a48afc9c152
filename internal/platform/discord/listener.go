package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/Vovarama1992/relay-ai-bridge/internal/relay"
)

type Options struct {
	Token     string
	GuildID   string
	ChannelID string
}

// Listener holds the gateway session. The same session serves the sender.
type Listener struct {
	session    *discordgo.Session
	policy     *relay.Policy
	dispatcher *relay.Dispatcher
	normalizer Normalizer
	logger     *zap.Logger

	mu        sync.Mutex
	open      bool
	botUser   string
	received  int64
	startedAt time.Time
}

func NewListener(opts Options, policy *relay.Policy, dispatcher *relay.Dispatcher, logger *zap.Logger) (*Listener, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := discordgo.New(normalizeBotToken(opts.Token))
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	l := &Listener{
		session:    s,
		policy:     policy,
		dispatcher: dispatcher,
		normalizer: Normalizer{GuildID: opts.GuildID, ChannelID: opts.ChannelID},
		logger:     logger,
	}
	s.AddHandler(l.handleReady)
	s.AddHandler(l.handleMessage)
	return l, nil
}

func (l *Listener) Sender() *Sender {
	return NewSender(l.session)
}

// Run opens the gateway connection and keeps it until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.start(); err != nil {
		return err
	}
	<-ctx.Done()
	return l.stop()
}

func (l *Listener) start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open {
		return fmt.Errorf("listener already started")
	}
	if err := l.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	l.open = true
	l.startedAt = time.Now()
	l.logger.Info("discord listener started")
	return nil
}

func (l *Listener) stop() error {
	l.mu.Lock()
	wasOpen := l.open
	l.open = false
	l.mu.Unlock()

	if !wasOpen {
		return nil
	}
	if err := l.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	l.logger.Info("discord listener stopped")
	return nil
}

func (l *Listener) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r == nil || r.User == nil {
		return
	}
	l.policy.SetIdentity(relay.PlatformDiscord, relay.Identity{ID: r.User.ID, Username: r.User.Username})
	l.mu.Lock()
	l.botUser = r.User.Username
	l.mu.Unlock()
	l.logger.Info("discord identity resolved", zap.String("username", r.User.Username), zap.Int("guilds", len(r.Guilds)))
}

func (l *Listener) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	l.mu.Lock()
	l.received++
	l.mu.Unlock()
	relay.Ingest[*discordgo.MessageCreate](context.Background(), l.dispatcher, l.normalizer, m)
}

func (l *Listener) Status() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := map[string]any{
		"platform":          string(relay.PlatformDiscord),
		"running":           l.open,
		"bot_username":      l.botUser,
		"messages_received": l.received,
		"guild_filter":      l.normalizer.GuildID,
		"channel_filter":    l.normalizer.ChannelID,
	}
	if !l.startedAt.IsZero() {
		st["started_at"] = l.startedAt.UTC()
	}
	return st
}

func normalizeBotToken(token string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(strings.ToLower(token), "bot ") {
		return token
	}
	return "Bot " + token
}
