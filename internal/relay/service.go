package relay

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Vovarama1992/relay-ai-bridge/internal/ai"
)

const (
	DefaultSystemPrompt = "You are a friendly, concise community assistant. Answer in the language the user writes in. When you do not know something, say so."
	DefaultApologyText  = "Sorry, I had a problem processing your message. Could you try again?"

	replyContextChars = 100
	healthTimeout     = 5 * time.Second
)

type Options struct {
	SystemPrompt    string
	ApologyText     string
	ContextTurns    int
	BackendTimeout  time.Duration
	OutboundTimeout time.Duration
	// MaxLength overrides DefaultMaxLength per platform.
	MaxLength map[Platform]int
	// SerializeSessions holds a per-session lease around
	// read-context -> backend -> append.
	SerializeSessions bool

	Logger *zap.Logger
	Now    func() time.Time
}

func (o *Options) setDefaults() {
	if strings.TrimSpace(o.SystemPrompt) == "" {
		o.SystemPrompt = DefaultSystemPrompt
	}
	if strings.TrimSpace(o.ApologyText) == "" {
		o.ApologyText = DefaultApologyText
	}
	if o.ContextTurns <= 0 {
		o.ContextTurns = 10
	}
	if o.BackendTimeout <= 0 {
		o.BackendTimeout = 60 * time.Second
	}
	if o.OutboundTimeout <= 0 {
		o.OutboundTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type service struct {
	store  Store
	ai     ai.AI
	policy *Policy
	opts   Options
	logger *zap.Logger
	locks  *sessionLocks

	mu       sync.RWMutex
	senders  map[Platform]Outbound
	statuses map[Platform]StatusFunc
}

func NewService(store Store, aiClient ai.AI, policy *Policy, opts Options) Service {
	opts.setDefaults()
	return &service{
		store:    store,
		ai:       aiClient,
		policy:   policy,
		opts:     opts,
		logger:   opts.Logger,
		locks:    newSessionLocks(),
		senders:  make(map[Platform]Outbound),
		statuses: make(map[Platform]StatusFunc),
	}
}

func (s *service) RegisterSender(p Platform, out Outbound) {
	s.mu.Lock()
	s.senders[p] = out
	s.mu.Unlock()
}

func (s *service) RegisterStatus(p Platform, fn StatusFunc) {
	s.mu.Lock()
	s.statuses[p] = fn
	s.mu.Unlock()
}

func (s *service) sender(p Platform) (Outbound, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.senders[p]
	return out, ok
}

func (s *service) HandleIncoming(ctx context.Context, msg NormalizedMessage) Outcome {
	out := Outcome{EventID: uuid.NewString()}
	log := s.logger.With(
		zap.String("event_id", out.EventID),
		zap.String("platform", string(msg.Platform)),
		zap.String("chat_id", msg.ChatID),
	)

	if msg.ChatID == "" {
		out.State = StateDropped
		out.Err = &IngestError{Platform: msg.Platform, Err: errors.New("empty chat id")}
		log.Warn("event dropped", zap.Error(out.Err))
		return out
	}

	d := s.policy.Decide(msg)
	if !d.Respond {
		out.State = StateDropped
		log.Debug("not activated")
		return out
	}
	out.Interaction = d.Interaction
	log = log.With(zap.String("interaction", string(d.Interaction)))

	if d.Canned != "" {
		out.State = StateShortCircuited
		out.Err = s.deliver(ctx, msg, d.Canned)
		log.Info("short-circuit reply", zap.String("state", string(out.State)), zap.Error(out.Err))
		return out
	}

	out.SessionID = SessionIDFor(msg)
	log = log.With(zap.String("session_id", out.SessionID))

	if s.opts.SerializeSessions {
		release, err := s.locks.acquire(ctx, out.SessionID)
		if err != nil {
			out.State = StateDropped
			out.Err = err
			log.Warn("session lease not acquired", zap.Error(err))
			return out
		}
		defer release()
	}

	userText := d.CleanText
	if d.Interaction == InteractionReply && strings.TrimSpace(msg.ReplyTargetText) != "" {
		userText = "[Replying to: " + truncateRunes(msg.ReplyTargetText, replyContextChars) + "]\n\n" + userText
	}

	s.typing(ctx, msg, log)

	reply, err := s.complete(ctx, log, out.SessionID, userText, "")
	if err != nil {
		out.State = StateFailedSent
		out.Err = err
		log.Error("backend failed", zap.Error(err))
		if sendErr := s.deliver(ctx, msg, s.withName(msg, s.opts.ApologyText)); sendErr != nil {
			log.Error("apology not delivered", zap.Error(sendErr))
		}
		return out
	}

	now := s.opts.Now()
	s.appendTurns(ctx, log, out.SessionID,
		Turn{Role: RoleUser, Content: userText, Platform: msg.Platform, SenderID: msg.SenderID, Timestamp: now},
		Turn{Role: RoleAssistant, Content: reply, Platform: msg.Platform, Timestamp: now},
	)

	out.State = StateSent
	out.Err = s.deliver(ctx, msg, s.withName(msg, reply))
	if out.Err != nil {
		log.Error("reply not delivered", zap.Error(out.Err))
	} else {
		log.Info("reply sent", zap.String("state", string(out.State)))
	}
	return out
}

func (s *service) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	req.Message = strings.TrimSpace(req.Message)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.Message == "" || req.SessionID == "" {
		return ChatResponse{}, ErrInvalidRequest
	}
	if req.Platform == "" {
		req.Platform = PlatformAPI
	}

	log := s.logger.With(
		zap.String("event_id", uuid.NewString()),
		zap.String("platform", string(req.Platform)),
		zap.String("session_id", req.SessionID),
	)

	if s.opts.SerializeSessions {
		release, err := s.locks.acquire(ctx, req.SessionID)
		if err != nil {
			return ChatResponse{}, err
		}
		defer release()
	}

	resp := ChatResponse{SessionID: req.SessionID}

	reply, err := s.complete(ctx, log, req.SessionID, req.Message, req.SystemPrompt)
	resp.Timestamp = s.opts.Now()
	if err != nil {
		log.Error("backend failed", zap.Error(err))
		resp.Response = s.opts.ApologyText
		return resp, nil
	}

	s.appendTurns(ctx, log, req.SessionID,
		Turn{Role: RoleUser, Content: req.Message, Platform: req.Platform, SenderID: req.UserID, Timestamp: resp.Timestamp},
		Turn{Role: RoleAssistant, Content: reply, Platform: req.Platform, Timestamp: resp.Timestamp},
	)

	resp.Response = reply
	resp.Success = true
	return resp, nil
}

// complete reads the trailing context and calls the backend. Store read
// failures degrade to an empty context.
func (s *service) complete(ctx context.Context, log *zap.Logger, sessionID, userText, systemPrompt string) (string, error) {
	history, err := s.store.GetContext(ctx, sessionID)
	if err != nil {
		log.Warn("context read degraded", zap.Error(&StoreError{Op: "get_context", SessionID: sessionID, Err: err}))
		history = nil
	}

	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = s.opts.SystemPrompt
	}
	prompt := buildPrompt(systemPrompt, history, s.opts.ContextTurns, userText)

	cctx, cancel := context.WithTimeout(ctx, s.opts.BackendTimeout)
	defer cancel()

	reply, err := s.ai.GetReply(cctx, prompt)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = ai.ErrEmptyResponse
	}
	if err != nil {
		return "", &BackendError{SessionID: sessionID, Err: err}
	}
	return reply, nil
}

// buildPrompt returns system + the last n user/assistant turns + the new user turn.
func buildPrompt(system string, history []Turn, n int, userText string) []ai.Message {
	convo := make([]Turn, 0, len(history))
	for _, t := range history {
		if t.Role == RoleUser || t.Role == RoleAssistant {
			convo = append(convo, t)
		}
	}
	if len(convo) > n {
		convo = convo[len(convo)-n:]
	}

	msgs := make([]ai.Message, 0, len(convo)+2)
	msgs = append(msgs, ai.Message{Role: string(RoleSystem), Text: system})
	for _, t := range convo {
		msgs = append(msgs, ai.Message{Role: string(t.Role), Text: t.Content})
	}
	return append(msgs, ai.Message{Role: string(RoleUser), Text: userText})
}

func (s *service) appendTurns(ctx context.Context, log *zap.Logger, sessionID string, turns ...Turn) {
	if err := s.store.Append(ctx, sessionID, turns...); err != nil {
		log.Warn("history write skipped", zap.Error(&StoreError{Op: "append", SessionID: sessionID, Err: err}))
	}
}

func (s *service) typing(ctx context.Context, msg NormalizedMessage, log *zap.Logger) {
	out, ok := s.sender(msg.Platform)
	if !ok {
		return
	}
	t, ok := out.(Typer)
	if !ok {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, s.opts.OutboundTimeout)
	defer cancel()
	if err := t.Typing(tctx, msg.ChatID, msg.ThreadID); err != nil {
		log.Debug("typing indicator failed", zap.Error(err))
	}
}

// deliver sanitizes text for the platform and sends it with the outbound timeout.
func (s *service) deliver(ctx context.Context, msg NormalizedMessage, text string) error {
	out, ok := s.sender(msg.Platform)
	if !ok {
		return &SendError{Platform: msg.Platform, ChatID: msg.ChatID, Err: ErrNoSender}
	}

	text = Sanitize(text, s.maxLength(msg.Platform))

	sctx, cancel := context.WithTimeout(ctx, s.opts.OutboundTimeout)
	defer cancel()
	if err := out.Send(sctx, msg.ChatID, text, msg.ThreadID); err != nil {
		return &SendError{Platform: msg.Platform, ChatID: msg.ChatID, Err: err}
	}
	return nil
}

func (s *service) maxLength(p Platform) int {
	if n, ok := s.opts.MaxLength[p]; ok {
		return n
	}
	return DefaultMaxLength[p]
}

// withName prefixes group replies with the sender's display name.
func (s *service) withName(msg NormalizedMessage, text string) string {
	name := strings.TrimSpace(msg.SenderDisplayName)
	if msg.IsDirect() || name == "" {
		return text
	}
	return name + ", " + text
}

func (s *service) SessionSummary(ctx context.Context, sessionID string) SessionSummary {
	sum := SessionSummary{SessionID: sessionID, Platforms: []string{}}

	turns, err := s.store.GetContext(ctx, sessionID)
	if err != nil {
		sum.Error = (&StoreError{Op: "get_context", SessionID: sessionID, Err: err}).Error()
		return sum
	}
	if len(turns) == 0 {
		return sum
	}

	sum.Exists = true
	sum.MessageCount = len(turns)
	sum.Turns = turns

	platforms := make(map[string]struct{})
	for _, t := range turns {
		switch t.Role {
		case RoleUser:
			sum.UserMessages++
		case RoleAssistant:
			sum.AssistantMessages++
		}
		if t.Platform != "" {
			platforms[string(t.Platform)] = struct{}{}
		}
	}
	for p := range platforms {
		sum.Platforms = append(sum.Platforms, p)
	}
	sort.Strings(sum.Platforms)

	last := turns[len(turns)-1].Timestamp
	sum.LastActivity = &last

	if ttl, err := s.store.TTL(ctx, sessionID); err == nil {
		sum.TTLSeconds = int64(ttl / time.Second)
	}
	return sum
}

func (s *service) ClearSession(ctx context.Context, sessionID string) (bool, error) {
	existed, err := s.store.Clear(ctx, sessionID)
	if err != nil {
		return false, &StoreError{Op: "clear", SessionID: sessionID, Err: err}
	}
	s.logger.Info("session cleared", zap.String("session_id", sessionID), zap.Bool("existed", existed))
	return existed, nil
}

func (s *service) ListSessions(ctx context.Context) ([]string, error) {
	ids, err := s.store.ListSessionIDs(ctx)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *service) Health(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	h := Health{
		Platforms: make(map[Platform]map[string]any),
		Timestamp: s.opts.Now(),
	}

	if err := s.store.Ping(ctx); err != nil {
		h.Store.Error = err.Error()
	} else {
		h.Store.Healthy = true
	}
	if err := s.ai.Ping(ctx); err != nil {
		h.Backend.Error = err.Error()
	} else {
		h.Backend.Healthy = true
	}

	s.mu.RLock()
	for p, fn := range s.statuses {
		h.Platforms[p] = fn()
	}
	s.mu.RUnlock()

	h.Status = "healthy"
	if !h.Healthy() {
		h.Status = "degraded"
	}
	return h
}

func truncateRunes(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
