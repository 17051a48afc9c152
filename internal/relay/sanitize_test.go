package relay

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, "(empty message)", Sanitize("", 100))
	assert.Equal(t, "(empty message)", Sanitize(" \n\t ", 100))
	assert.Equal(t, "a\tb\nc", Sanitize("a\tb\x00\nc\x07", 100))
	assert.Equal(t, "a\n\n\nb", Sanitize("a\n\n\n\n\n\nb", 100))
	assert.Equal(t, "a\n\n\nb", Sanitize("a\n\n\nb", 100))
	assert.Equal(t, "short", Sanitize("short", 0))
	assert.Equal(t, "(empty message)", Sanitize("\x00\x07\x1b", 100))
	assert.Equal(t, "(empty message)", Sanitize("\x01 \x02", 0))
}

func TestSanitizeTinyLimits(t *testing.T) {
	for _, n := range []int{1, 10, 25, 30, 49, 50, 51} {
		got := Sanitize(strings.Repeat("ab", 100), n)
		assert.LessOrEqual(t, utf8.RuneCountInString(got), n, "limit %d", n)
	}
	assert.Equal(t, "abcde", Sanitize("abcdefghij", 5))
	assert.Equal(t, "(empty", Sanitize("", 6))
}

func TestSanitizeTruncatesByRunes(t *testing.T) {
	long := strings.Repeat("ñ", 300)
	got := Sanitize(long, 200)

	assert.True(t, strings.HasSuffix(got, "\n\n... (message truncated)"))
	assert.Equal(t, strings.Repeat("ñ", 150), strings.TrimSuffix(got, "\n\n... (message truncated)"))
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 200)
	assert.True(t, utf8.ValidString(got))

	exact := strings.Repeat("x", 200)
	assert.Equal(t, exact, Sanitize(exact, 200))
}

func TestDefaultMaxLength(t *testing.T) {
	assert.Equal(t, 1900, DefaultMaxLength[PlatformDiscord])
	assert.Equal(t, 4000, DefaultMaxLength[PlatformTelegram])
	assert.Equal(t, 4000, DefaultMaxLength[PlatformWhatsAppAPI])
	assert.Equal(t, 4000, DefaultMaxLength[PlatformWhatsAppWeb])
}
