package relay

import "strings"

// DeriveSessionID maps a conversation surface to its session id. It is pure:
// the same arguments always give the same id, across restarts.
//
//	direct:            <platform>:direct:<chat>:<user>
//	group with thread: <platform>:group:<chat>:thread:<thread>
//	group:             <platform>:group:<chat>
func DeriveSessionID(platform Platform, kind ChatKind, chatID, userID, threadID string) string {
	var b strings.Builder
	b.WriteString(string(platform))
	if kind == ChatDirect {
		b.WriteString(":direct:")
		b.WriteString(chatID)
		b.WriteByte(':')
		b.WriteString(userID)
		return b.String()
	}
	b.WriteString(":group:")
	b.WriteString(chatID)
	if threadID != "" {
		b.WriteString(":thread:")
		b.WriteString(threadID)
	}
	return b.String()
}

// SessionIDFor derives the session id of a normalized message.
func SessionIDFor(m NormalizedMessage) string {
	return DeriveSessionID(m.Platform, m.ChatKind, m.ChatID, m.SenderID, m.ThreadID)
}
