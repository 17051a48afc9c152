package relay

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var DefaultMaxLength = map[Platform]int{
	PlatformTelegram:    4000,
	PlatformDiscord:     1900,
	PlatformWhatsAppAPI: 4000,
	PlatformWhatsAppWeb: 4000,
}

const (
	truncationSuffix = "\n\n... (message truncated)"
	truncationSlack  = 50
	emptyMessage     = "(empty message)"
)

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f-\x9f]`)
	manyNewlines = regexp.MustCompile(`\n{4,}`)
)

// Sanitize fits text to a platform's outbound constraints. maxLen <= 0
// disables truncation.
func Sanitize(text string, maxLen int) string {
	text = controlChars.ReplaceAllString(text, "")
	text = manyNewlines.ReplaceAllString(text, "\n\n\n")
	if strings.TrimSpace(text) == "" {
		text = emptyMessage
	}

	if maxLen <= 0 || utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	runes := []rune(text)
	// Limits too small for the suffix get a plain cut.
	if maxLen <= utf8.RuneCountInString(truncationSuffix) {
		return string(runes[:maxLen])
	}
	keep := maxLen - truncationSlack
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + truncationSuffix
}
