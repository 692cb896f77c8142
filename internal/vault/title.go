package vault

import (
	"strings"
	"unicode"

	"nox/internal/markup"
)

const (
	titleWords    = 8
	titleMaxRunes = 80
)

// ComputeTitle 从第一条有内容的用户消息生成标题（前 8 个词，最多 80 字符）
// ComputeTitle derives a title from the first user turn that carries letters
// or digits, skipping instrument results and slash commands. It keeps the
// first eight words and at most 80 runes. Empty when nothing qualifies.
func ComputeTitle(turns []Turn) string {
	for _, t := range turns {
		if t.Role != RoleUser {
			continue
		}
		text := strings.TrimSpace(t.Content)
		if text == "" || strings.HasPrefix(text, "/") {
			continue
		}
		if _, ok := markup.ParseResult(text); ok {
			continue
		}
		text = markup.Text(markup.Lex(text))
		if !hasWordRune(text) {
			continue
		}
		words := strings.Fields(text)
		if len(words) > titleWords {
			words = words[:titleWords]
		}
		return trimTitle(strings.Join(words, " "))
	}
	return ""
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// trimTitle collapses whitespace and caps the title length.
func trimTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > titleMaxRunes {
		s = strings.TrimSpace(string(r[:titleMaxRunes]))
	}
	return s
}
