package relay

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Identity is the bot's own identity on one platform, learned at runtime
// (Telegram getMe, Discord READY, WhatsApp phone number lookup).
type Identity struct {
	ID       string
	Username string
}

type Interaction string

const (
	InteractionDirect  Interaction = "direct"
	InteractionReply   Interaction = "reply"
	InteractionMention Interaction = "mention"
)

// Decision is the activation outcome for one message. A non-empty Canned
// reply short-circuits the backend and the store.
type Decision struct {
	Respond     bool
	Interaction Interaction
	CleanText   string
	Canned      string
}

var DefaultTriggerPatterns = []string{
	`@bot\b`,
	`@assistant\b`,
	`^bot[,:\s]+`,
	`^assistant[,:\s]+`,
	`^hey bot\b[,:\s]*`,
}

// markerGap stands in for a removed trigger or mention until closeGaps
// folds it into the surrounding text.
const markerGap = "\uE000"

var (
	gapAtEdge = regexp.MustCompile(`(?m)^[ \t]*\x{E000}[ \t\x{E000}]*|[ \t\x{E000}]*\x{E000}[ \t]*$`)
	gapInside = regexp.MustCompile(`[ \t]*\x{E000}[ \t\x{E000}]*`)
)

// closeGaps removes marker gaps. Only the blanks around a removed marker
// are folded; the rest of the text keeps its spacing and line breaks.
func closeGaps(s string) string {
	s = gapAtEdge.ReplaceAllString(s, "")
	return strings.TrimSpace(gapInside.ReplaceAllString(s, " "))
}

var DefaultCommands = []string{"/start", "start", "hello", "hola", "help", "ayuda"}

const (
	DefaultWelcomeText = "Hi {name}! 👋\n\nI'm the community assistant.\n\n• In groups: mention me or reply to my messages\n• In private: just write to me\n\nAsk me anything."
	DefaultClarifyText = "{name}, how can I help you?"
)

type PolicyOptions struct {
	// Triggers holds per-platform case-insensitive patterns. Platforms
	// without an entry use DefaultTriggers.
	Triggers        map[Platform][]string
	DefaultTriggers []string
	Commands        []string
	WelcomeText     string
	ClarifyText     string
}

// Policy decides whether a message must be answered. It is shared by all
// platforms; platform differences live in the normalizers.
type Policy struct {
	mu         sync.RWMutex
	identities map[Platform]Identity

	triggers        map[Platform][]*regexp.Regexp
	defaultTriggers []*regexp.Regexp
	commands        map[string]struct{}
	welcome         string
	clarify         string
}

func NewPolicy(opts PolicyOptions) (*Policy, error) {
	defaults := opts.DefaultTriggers
	if defaults == nil {
		defaults = DefaultTriggerPatterns
	}
	defaultRes, err := compileTriggers(defaults)
	if err != nil {
		return nil, err
	}

	triggers := make(map[Platform][]*regexp.Regexp, len(opts.Triggers))
	for p, patterns := range opts.Triggers {
		res, err := compileTriggers(patterns)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		triggers[p] = res
	}

	commandList := opts.Commands
	if commandList == nil {
		commandList = DefaultCommands
	}
	commands := make(map[string]struct{}, len(commandList))
	for _, c := range commandList {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			commands[c] = struct{}{}
		}
	}

	welcome := opts.WelcomeText
	if strings.TrimSpace(welcome) == "" {
		welcome = DefaultWelcomeText
	}
	clarify := opts.ClarifyText
	if strings.TrimSpace(clarify) == "" {
		clarify = DefaultClarifyText
	}

	return &Policy{
		identities:      make(map[Platform]Identity),
		triggers:        triggers,
		defaultTriggers: defaultRes,
		commands:        commands,
		welcome:         welcome,
		clarify:         clarify,
	}, nil
}

func compileTriggers(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("trigger pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func (p *Policy) SetIdentity(platform Platform, id Identity) {
	id.Username = strings.TrimPrefix(strings.TrimSpace(id.Username), "@")
	p.mu.Lock()
	p.identities[platform] = id
	p.mu.Unlock()
}

func (p *Policy) Identity(platform Platform) (Identity, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.identities[platform]
	return id, ok
}

func (p *Policy) triggersFor(platform Platform) []*regexp.Regexp {
	if res, ok := p.triggers[platform]; ok {
		return res
	}
	return p.defaultTriggers
}

// Decide applies, in order: direct chats always activate; group chats
// activate on reply-to-bot, a mention of the bot, or a trigger pattern.
func (p *Policy) Decide(m NormalizedMessage) Decision {
	text := strings.TrimSpace(m.Text)

	if m.IsDirect() {
		return p.finish(m, Decision{
			Respond:     true,
			Interaction: InteractionDirect,
			CleanText:   text,
		})
	}

	id, _ := p.Identity(m.Platform)
	isReply := id.ID != "" && m.ReplyTargetSenderID == id.ID

	isMention := false
	var mentionTokens []string
	for _, mention := range m.Mentions {
		if !mentionsIdentity(mention, id) {
			continue
		}
		isMention = true
		if mention.Token != "" {
			mentionTokens = append(mentionTokens, mention.Token)
		}
	}
	var usernameRe *regexp.Regexp
	if id.Username != "" {
		usernameRe = regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(id.Username) + `\b`)
		if usernameRe.MatchString(text) {
			isMention = true
		}
	}

	var matched []*regexp.Regexp
	for _, re := range p.triggersFor(m.Platform) {
		if re.MatchString(text) {
			matched = append(matched, re)
		}
	}

	if !isReply && !isMention && len(matched) == 0 {
		return Decision{}
	}

	clean := text
	for _, re := range matched {
		clean = closeGaps(re.ReplaceAllString(clean, markerGap))
	}
	for _, tok := range mentionTokens {
		clean = strings.ReplaceAll(clean, tok, markerGap)
	}
	if usernameRe != nil {
		clean = usernameRe.ReplaceAllString(clean, markerGap)
	}
	clean = closeGaps(clean)

	interaction := InteractionMention
	if isReply {
		interaction = InteractionReply
	}
	return p.finish(m, Decision{
		Respond:     true,
		Interaction: interaction,
		CleanText:   clean,
	})
}

func (p *Policy) finish(m NormalizedMessage, d Decision) Decision {
	if d.CleanText == "" {
		d.Canned = render(p.clarify, m.SenderDisplayName)
		return d
	}
	if _, ok := p.commands[strings.ToLower(d.CleanText)]; ok {
		d.Canned = render(p.welcome, m.SenderDisplayName)
	}
	return d
}

func mentionsIdentity(m Mention, id Identity) bool {
	if id.ID != "" && m.UserID == id.ID {
		return true
	}
	if id.Username == "" {
		return false
	}
	if strings.EqualFold(strings.TrimPrefix(m.Username, "@"), id.Username) {
		return true
	}
	return strings.EqualFold(m.Token, "@"+id.Username)
}

func render(tpl, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "friend"
	}
	return strings.ReplaceAll(tpl, "{name}", name)
}
