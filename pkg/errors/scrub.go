package errors

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	redacted  = "[REDACTED]"
	truncated = "...(truncated)"
)

// Scrub 清理不可信的上游诊断文本：替换敏感值、去除控制字符、按字节截断。
// limit <= 0 时不截断。
func Scrub(text string, limit int, secrets ...string) string {
	text = strings.ToValidUTF8(text, "")
	for _, secret := range secrets {
		if len(secret) >= 4 {
			text = strings.ReplaceAll(text, secret, redacted)
		}
	}

	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(text)

	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + truncated
}
