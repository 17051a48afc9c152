package whatsappweb

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Vovarama1992/relay-ai-bridge/internal/relay"
)

// Poller scrapes WhatsApp Web on a fixed interval and feeds new incoming
// messages to the dispatcher. Each bubble is dispatched at most once, and
// bubbles that were already answered before the poller started are never
// dispatched.
type Poller struct {
	driver     Driver
	policy     *relay.Policy
	dispatcher *relay.Dispatcher
	normalizer Normalizer
	seen       *seenSet
	primed     map[string]struct{}
	interval   time.Duration
	backoff    time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	running   bool
	polls     int64
	lastError string
}

type PollerOptions struct {
	Interval time.Duration
	// ErrorBackoff is the pause after a failed scrape.
	ErrorBackoff time.Duration
}

func NewPoller(driver Driver, policy *relay.Policy, dispatcher *relay.Dispatcher, opts PollerOptions, logger *zap.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 5 * opts.Interval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		driver:     driver,
		policy:     policy,
		dispatcher: dispatcher,
		seen:       newSeenSet(seenCapacity, seenEvict),
		primed:     make(map[string]struct{}),
		interval:   opts.Interval,
		backoff:    opts.ErrorBackoff,
		logger:     logger,
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.policy.SetIdentity(relay.PlatformWhatsAppWeb, relay.Identity{ID: SelfID})
	p.setRunning(true)
	defer p.setRunning(false)

	for {
		wait := p.interval
		if err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.setError(err)
			p.logger.Warn("whatsapp web poll failed", zap.Error(err))
			wait = p.backoff
		}
		if err := sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// PollOnce runs a single scrape and dispatches unseen messages. Messages
// scraped before an error are still dispatched.
func (p *Poller) PollOnce(ctx context.Context) error {
	msgs, err := p.driver.Unread(ctx)
	for _, m := range p.fresh(msgs) {
		relay.Ingest[Scraped](ctx, p.dispatcher, p.normalizer, m)
	}
	p.mu.Lock()
	p.polls++
	p.mu.Unlock()
	return err
}

// fresh marks msgs as seen and returns the ones to dispatch. On the first
// scrape of a chat, bubbles up to its latest outgoing one are history.
func (p *Poller) fresh(msgs []Scraped) []Scraped {
	lastOut := make(map[string]int)
	p.mu.Lock()
	for i, m := range msgs {
		if _, ok := p.primed[m.ChatName]; !ok && m.Outgoing {
			lastOut[m.ChatName] = i
		}
	}
	for _, m := range msgs {
		p.primed[m.ChatName] = struct{}{}
	}
	p.mu.Unlock()

	var out []Scraped
	for i, m := range msgs {
		if !p.seen.Add(m.Key()) {
			continue
		}
		if last, ok := lastOut[m.ChatName]; ok && i <= last {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Sender adapts the driver to relay.Outbound. Chats are addressed by their
// title; threads do not exist.
func (p *Poller) Sender() relay.Outbound {
	return sender{driver: p.driver}
}

type sender struct {
	driver Driver
}

func (s sender) Send(ctx context.Context, chatID, text, _ string) error {
	return s.driver.Send(ctx, chatID, text)
}

func (p *Poller) setRunning(v bool) {
	p.mu.Lock()
	p.running = v
	p.mu.Unlock()
}

func (p *Poller) setError(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	p.mu.Lock()
	p.lastError = err.Error()
	p.mu.Unlock()
}

func (p *Poller) Status() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := map[string]any{
		"platform":           string(relay.PlatformWhatsAppWeb),
		"method":             "browser_automation",
		"running":            p.running,
		"polls":              p.polls,
		"processed_messages": p.seen.Len(),
		"poll_interval":      p.interval.String(),
	}
	if p.lastError != "" {
		st["last_error"] = p.lastError
	}
	return st
}
