package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Vovarama1992/relay-ai-bridge/internal/ai"
	"github.com/Vovarama1992/relay-ai-bridge/internal/config"
	"github.com/Vovarama1992/relay-ai-bridge/internal/platform/discord"
	"github.com/Vovarama1992/relay-ai-bridge/internal/platform/telegram"
	"github.com/Vovarama1992/relay-ai-bridge/internal/platform/whatsapp"
	"github.com/Vovarama1992/relay-ai-bridge/internal/platform/whatsappweb"
	"github.com/Vovarama1992/relay-ai-bridge/internal/relay"
	"github.com/Vovarama1992/relay-ai-bridge/internal/store"
)

const (
	maxInFlight     = 16
	sweepInterval   = time.Minute
	shutdownTimeout = 15 * time.Second
	identifyTimeout = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, webhooks and every configured platform listener",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Store ---
	st, err := store.Open(ctx, storeConfig(cfg), logger.Named("store"))
	if err != nil {
		return err
	}
	defer st.Close()

	// --- Backend ---
	aiClient, err := ai.NewOpenAIClient(ai.Config{
		BaseURL:     cfg.Backend.BaseURL,
		APIKey:      cfg.Backend.APIKey,
		Model:       cfg.Backend.Model,
		Temperature: float32(cfg.Backend.Temperature),
	}, logger.Named("ai"))
	if err != nil {
		return err
	}

	// --- Relay core ---
	policy, err := buildPolicy(cfg.Profile, logger)
	if err != nil {
		return fmt.Errorf("activation policy: %w", err)
	}
	svc := relay.NewService(st, aiClient, policy, serviceOptions(cfg, logger.Named("relay")))

	// --- Router ---
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Telegram-Bot-Api-Secret-Token"},
	}))
	relay.RegisterRoutes(r, relay.NewHandler(svc, serviceName, version))

	g, gctx := errgroup.WithContext(ctx)
	w := &wiring{svc: svc, policy: policy, group: g, ctx: gctx}
	w.telegram(r)
	if err := w.discord(); err != nil {
		return err
	}
	w.whatsapp(r)

	if sw, ok := st.(store.Sweeper); ok {
		g.Go(func() error { return sweep(gctx, sw, sweepInterval) })
	}

	// --- HTTP ---
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.String("store", cfg.Store.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	// In-flight events finish before the store is closed.
	w.wait()
	logger.Info("relay stopped")
	return err
}

// wiring registers each configured platform against the service.
type wiring struct {
	svc         relay.Service
	policy      *relay.Policy
	group       *errgroup.Group
	ctx         context.Context
	dispatchers []*relay.Dispatcher
}

func (w *wiring) dispatcher(p relay.Platform) *relay.Dispatcher {
	d := relay.NewDispatcher(w.svc, p, maxInFlight, logger.Named(string(p)))
	w.dispatchers = append(w.dispatchers, d)
	return d
}

func (w *wiring) register(p relay.Platform, out relay.Outbound, status relay.StatusFunc) {
	retry := relay.RetryPolicy{Attempts: cfg.Outbound.RetryAttempts, Backoff: cfg.Outbound.RetryBackoff}
	w.svc.RegisterSender(p, relay.WithRetry(out, p, retry, logger.Named(string(p))))
	w.svc.RegisterStatus(p, status)
}

func (w *wiring) wait() {
	for _, d := range w.dispatchers {
		d.Wait()
	}
}

func (w *wiring) telegram(r chi.Router) {
	if cfg.Telegram.Token == "" {
		return
	}
	log := logger.Named("telegram")
	client := telegram.NewClient(nil, cfg.Telegram.APIBaseURL, cfg.Telegram.Token)
	bot := telegram.NewBot(client, w.policy, w.dispatcher(relay.PlatformTelegram), telegram.BotOptions{
		Mode:          cfg.Telegram.Mode,
		PollTimeout:   cfg.Telegram.PollTimeout,
		WebhookSecret: cfg.Telegram.WebhookSecret,
	}, log)
	w.register(relay.PlatformTelegram, telegram.NewSender(client), bot.Status)

	ctx, cancel := context.WithTimeout(w.ctx, identifyTimeout)
	defer cancel()
	if err := bot.Identify(ctx); err != nil {
		log.Warn("telegram identity unavailable, group mentions and replies will not activate", zap.Error(err))
	}

	if cfg.Telegram.Mode == telegram.ModeWebhook {
		telegram.RegisterRoutes(r, bot)
		return
	}
	w.group.Go(func() error { return bot.Poll(w.ctx) })
}

func (w *wiring) discord() error {
	if cfg.Discord.Token == "" {
		return nil
	}
	log := logger.Named("discord")
	l, err := discord.NewListener(discord.Options{
		Token:     cfg.Discord.Token,
		GuildID:   cfg.Discord.GuildID,
		ChannelID: cfg.Discord.ChannelID,
	}, w.policy, w.dispatcher(relay.PlatformDiscord), log)
	if err != nil {
		return err
	}
	w.register(relay.PlatformDiscord, l.Sender(), l.Status)
	w.group.Go(func() error {
		// A failed gateway leaves the other platforms running.
		if err := l.Run(w.ctx); err != nil {
			log.Error("discord listener stopped", zap.Error(err))
		}
		return nil
	})
	return nil
}

func (w *wiring) whatsapp(r chi.Router) {
	switch cfg.WhatsAppTransport() {
	case "api":
		log := logger.Named("whatsapp")
		client := whatsapp.NewClient(nil, "", cfg.WhatsApp.APIVersion, cfg.WhatsApp.PhoneNumberID, cfg.WhatsApp.AccessToken)
		hook := whatsapp.NewWebhook(client, w.policy, w.dispatcher(relay.PlatformWhatsAppAPI), cfg.WhatsApp.VerifyToken, log)
		w.register(relay.PlatformWhatsAppAPI, client, hook.Status)
		whatsapp.RegisterRoutes(r, hook)

		ctx, cancel := context.WithTimeout(w.ctx, identifyTimeout)
		defer cancel()
		if err := hook.Identify(ctx); err != nil {
			log.Warn("whatsapp phone lookup failed, identity will be taken from the first webhook", zap.Error(err))
		}

	case "web":
		log := logger.Named("whatsapp_web")
		d := w.dispatcher(relay.PlatformWhatsAppWeb)
		w.group.Go(func() error {
			drv, err := whatsappweb.Launch(w.ctx, whatsappweb.RodOptions{
				DebuggerURL: cfg.WhatsApp.WebDebuggerURL,
				UserDataDir: cfg.WhatsApp.WebUserDataDir,
				Headless:    cfg.WhatsApp.WebHeadless,
			}, log)
			if err != nil {
				log.Error("whatsapp web unavailable", zap.Error(err))
				return nil
			}
			defer drv.Close()

			poller := whatsappweb.NewPoller(drv, w.policy, d, whatsappweb.PollerOptions{
				Interval: cfg.WhatsApp.WebPollInterval,
			}, log)
			w.register(relay.PlatformWhatsAppWeb, poller.Sender(), poller.Status)
			return poller.Run(w.ctx)
		})
	}
}

func sweep(ctx context.Context, sw store.Sweeper, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := sw.Sweep(ctx)
			if err != nil {
				logger.Warn("session sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("expired sessions removed", zap.Int64("count", n))
			}
		}
	}
}

func storeConfig(c config.Config) store.OpenConfig {
	return store.OpenConfig{
		Backend:     c.Store.Backend,
		RedisURL:    c.Store.RedisURL,
		DatabaseURL: c.Store.DatabaseURL,
		Options: store.Options{
			MaxTurns: c.Store.MaxTurns,
			TTL:      c.Store.TTL,
		},
	}
}

func serviceOptions(c config.Config, log *zap.Logger) relay.Options {
	opts := relay.Options{
		SystemPrompt:      c.Profile.SystemPrompt,
		ApologyText:       c.Profile.ApologyText,
		ContextTurns:      c.ContextTurns,
		BackendTimeout:    c.Backend.Timeout,
		OutboundTimeout:   c.Outbound.Timeout,
		SerializeSessions: c.SerializeSessions,
		Logger:            log,
	}
	if len(c.Profile.MaxLength) > 0 {
		opts.MaxLength = make(map[relay.Platform]int, len(c.Profile.MaxLength))
		for name, n := range c.Profile.MaxLength {
			opts.MaxLength[relay.Platform(name)] = n
		}
	}
	return opts
}

// buildPolicy maps the profile onto activation options. The "default"
// trigger list applies to platforms without their own entry.
func buildPolicy(p config.Profile, log *zap.Logger) (*relay.Policy, error) {
	opts := relay.PolicyOptions{
		Commands:    p.Commands,
		WelcomeText: p.WelcomeText,
		ClarifyText: p.ClarifyText,
	}
	for name, patterns := range p.Triggers {
		if name == "default" {
			opts.DefaultTriggers = patterns
			continue
		}
		platform := relay.Platform(name)
		if !platform.Valid() {
			log.Warn("triggers for unknown platform ignored", zap.String("platform", name))
			continue
		}
		if opts.Triggers == nil {
			opts.Triggers = make(map[relay.Platform][]string)
		}
		opts.Triggers[platform] = patterns
	}
	return relay.NewPolicy(opts)
}
