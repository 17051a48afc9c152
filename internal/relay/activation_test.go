package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPolicy(t *testing.T, opts PolicyOptions) *Policy {
	t.Helper()
	p, err := NewPolicy(opts)
	require.NoError(t, err)
	p.SetIdentity(PlatformTelegram, Identity{ID: "42", Username: "@relay_bot"})
	return p
}

func groupMsg(text string) NormalizedMessage {
	return NormalizedMessage{
		Platform:          PlatformTelegram,
		ChatKind:          ChatGroup,
		ChatID:            "999",
		SenderID:          "456",
		SenderDisplayName: "Ana",
		Text:              text,
	}
}

func directMsg(text string) NormalizedMessage {
	return NormalizedMessage{
		Platform:          PlatformTelegram,
		ChatKind:          ChatDirect,
		ChatID:            "123",
		SenderID:          "456",
		SenderDisplayName: "Ana",
		Text:              text,
	}
}

func TestDecideDirectChats(t *testing.T) {
	p := newPolicy(t, PolicyOptions{})

	d := p.Decide(directMsg("hola"))
	assert.True(t, d.Respond)
	assert.Equal(t, InteractionDirect, d.Interaction)
	assert.Contains(t, d.Canned, "Hi Ana!")

	d = p.Decide(directMsg("  how do I flash the firmware?  "))
	assert.True(t, d.Respond)
	assert.Empty(t, d.Canned)
	assert.Equal(t, "how do I flash the firmware?", d.CleanText)

	d = p.Decide(directMsg("   "))
	assert.True(t, d.Respond)
	assert.Equal(t, "Ana, how can I help you?", d.Canned)
}

func TestDecideGroupTriggerStripsPattern(t *testing.T) {
	p := newPolicy(t, PolicyOptions{})

	d := p.Decide(groupMsg("@bot what's the frequency"))
	assert.True(t, d.Respond)
	assert.Equal(t, InteractionMention, d.Interaction)
	assert.Equal(t, "what's the frequency", d.CleanText)
	assert.Empty(t, d.Canned)

	d = p.Decide(groupMsg("Hey bot, any news?"))
	assert.True(t, d.Respond)
	assert.Equal(t, "any news?", d.CleanText)
}

func TestDecideKeepsMessageLayout(t *testing.T) {
	p := newPolicy(t, PolicyOptions{})

	d := p.Decide(groupMsg("@bot config:\nregion=US\nfreq=915"))
	assert.True(t, d.Respond)
	assert.Equal(t, "config:\nregion=US\nfreq=915", d.CleanText)

	d = p.Decide(groupMsg("first line @bot\n  indented   line"))
	assert.Equal(t, "first line\n  indented   line", d.CleanText)

	m := groupMsg("look at this @relay_bot\tplease")
	m.Mentions = []Mention{{Username: "relay_bot", Token: "@relay_bot"}}
	assert.Equal(t, "look at this please", p.Decide(m).CleanText)
}

func TestDecideGroupWithoutActivationDrops(t *testing.T) {
	p := newPolicy(t, PolicyOptions{})
	d := p.Decide(groupMsg("nice weather today"))
	assert.Equal(t, Decision{}, d)

	// A bot word in the middle is not a trigger.
	assert.False(t, p.Decide(groupMsg("the robot is a bot, right")).Respond)
}

func TestDecideReplyToBot(t *testing.T) {
	p := newPolicy(t, PolicyOptions{})

	m := groupMsg("and for 868 MHz?")
	m.ReplyTargetSenderID = "42"
	m.ReplyTargetText = "Use 915 MHz in the Americas."
	d := p.Decide(m)
	assert.True(t, d.Respond)
	assert.Equal(t, InteractionReply, d.Interaction)
	assert.Equal(t, "and for 868 MHz?", d.CleanText)

	m.ReplyTargetSenderID = "7"
	assert.False(t, p.Decide(m).Respond, "replies to other users do not activate")
}

func TestDecideNativeMention(t *testing.T) {
	p := newPolicy(t, PolicyOptions{})

	m := groupMsg("@relay_bot ping the gateway")
	m.Mentions = []Mention{{Username: "relay_bot", Token: "@relay_bot"}}
	d := p.Decide(m)
	assert.True(t, d.Respond)
	assert.Equal(t, InteractionMention, d.Interaction)
	assert.Equal(t, "ping the gateway", d.CleanText)

	m = groupMsg("<@42> status?")
	m.Mentions = []Mention{{UserID: "42", Token: "<@42>"}}
	d = p.Decide(m)
	assert.True(t, d.Respond)
	assert.Equal(t, "status?", d.CleanText)

	m = groupMsg("ask @someone_else")
	m.Mentions = []Mention{{Username: "someone_else", Token: "@someone_else"}}
	assert.False(t, p.Decide(m).Respond)
}

func TestDecideUsernameInTextWithoutEntity(t *testing.T) {
	p := newPolicy(t, PolicyOptions{})
	d := p.Decide(groupMsg("hello @Relay_Bot how are you"))
	assert.True(t, d.Respond)
	assert.Equal(t, "hello how are you", d.CleanText)
}

func TestDecideBareMentionAsksForClarification(t *testing.T) {
	p := newPolicy(t, PolicyOptions{})
	d := p.Decide(groupMsg("@bot"))
	assert.True(t, d.Respond)
	assert.Empty(t, d.CleanText)
	assert.Equal(t, "Ana, how can I help you?", d.Canned)
}

func TestDecideCommandsInGroups(t *testing.T) {
	p := newPolicy(t, PolicyOptions{})
	d := p.Decide(groupMsg("@bot help"))
	assert.True(t, d.Respond)
	assert.Contains(t, d.Canned, "Hi Ana!")
}

func TestDecideCustomOptions(t *testing.T) {
	p := newPolicy(t, PolicyOptions{
		Triggers:    map[Platform][]string{PlatformDiscord: {`^!ask\s+`}},
		Commands:    []string{"menu"},
		WelcomeText: "Welcome, {name}.",
		ClarifyText: "Yes?",
	})

	discord := groupMsg("!ask what is LoRa")
	discord.Platform = PlatformDiscord
	d := p.Decide(discord)
	assert.True(t, d.Respond)
	assert.Equal(t, "what is LoRa", d.CleanText)

	discord.Text = "@bot what is LoRa"
	assert.False(t, p.Decide(discord).Respond, "a platform list replaces the defaults")

	assert.True(t, p.Decide(groupMsg("@bot what is LoRa")).Respond, "other platforms keep the defaults")

	direct := directMsg("MENU")
	direct.SenderDisplayName = ""
	assert.Equal(t, "Welcome, friend.", p.Decide(direct).Canned)
	assert.Equal(t, "", p.Decide(directMsg("hola")).Canned, "custom commands replace the defaults")
	assert.Equal(t, "Yes?", p.Decide(directMsg("")).Canned)
}

func TestNewPolicyRejectsBadPattern(t *testing.T) {
	_, err := NewPolicy(PolicyOptions{DefaultTriggers: []string{"("}})
	require.Error(t, err)

	_, err = NewPolicy(PolicyOptions{Triggers: map[Platform][]string{PlatformDiscord: {"[a-"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord")
}

func TestIdentityIsPerPlatform(t *testing.T) {
	p := newPolicy(t, PolicyOptions{})
	id, ok := p.Identity(PlatformTelegram)
	require.True(t, ok)
	assert.Equal(t, "relay_bot", id.Username, "leading @ is stripped")

	_, ok = p.Identity(PlatformDiscord)
	assert.False(t, ok)
}
