package sanitize

import (
	"regexp"
	"sort"
	"strings"
)

// 脱敏占位符 / Redaction placeholders
const (
	RedactedEmail = "[REDACTED:EMAIL]"
	RedactedCard  = "[REDACTED:CARD]"
	RedactedIP    = "[REDACTED:IP]"
	RedactedPhone = "[REDACTED:PHONE]"
	RedactedName  = "[REDACTED:NAME]"
)

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	ipv4Pattern  = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	phonePattern = regexp.MustCompile(`\b(?:\+?\d{1,3}[\s.-]?)?(?:\(\d{2,4}\)[\s.-]?|\d{2,4}[\s.-]?)?\d{3,4}[\s.-]?\d{3,4}\b`)
)

// genericLabels are prompt labels that would wreck ordinary prose if redacted.
var genericLabels = map[string]struct{}{
	"you":  {},
	"user": {},
}

// Sanitizer 对文本做确定性脱敏，无副作用，可并发使用
// Sanitizer applies a deterministic redaction pass; it holds no mutable state and is safe for concurrent use.
type Sanitizer struct {
	names []*regexp.Regexp
}

// New 构建 Sanitizer；names 为需要额外替换为 [REDACTED:NAME] 的名字
// New builds a Sanitizer; names are additionally replaced with [REDACTED:NAME].
func New(names []string) *Sanitizer {
	cleaned := make([]string, 0, len(names))
	seen := map[string]struct{}{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		key := strings.ToLower(n)
		if _, ok := genericLabels[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, n)
	}
	// Longer names first so "Ada Lovelace" wins over "Ada".
	sort.SliceStable(cleaned, func(i, j int) bool {
		return len(cleaned[i]) > len(cleaned[j])
	})

	s := &Sanitizer{names: make([]*regexp.Regexp, 0, len(cleaned))}
	for _, n := range cleaned {
		s.names = append(s.names, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(n)))
	}
	return s
}

// Names returns how many name patterns are configured.
func (s *Sanitizer) Names() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}

// Sanitize 返回脱敏后的文本；对任何输入都不会失败
// Sanitize returns text with sensitive content reduced. It never fails; at worst the input comes back unchanged.
func (s *Sanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	out := emailPattern.ReplaceAllString(text, RedactedEmail)
	out = cardPattern.ReplaceAllStringFunc(out, redactCard)
	out = ipv4Pattern.ReplaceAllString(out, RedactedIP)
	out = phonePattern.ReplaceAllString(out, RedactedPhone)
	if s != nil {
		for _, re := range s.names {
			out = re.ReplaceAllLiteralString(out, RedactedName)
		}
	}
	return out
}

// Text is a convenience wrapper for one-off calls.
func Text(text string, names []string) string {
	return New(names).Sanitize(text)
}

func redactCard(raw string) string {
	// The pattern may swallow one trailing separator; keep it in the output.
	body := strings.TrimRight(raw, " -")
	trailing := raw[len(body):]

	digits := make([]int, 0, len(body))
	for _, r := range body {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if !luhnValid(digits) {
		return raw
	}
	return RedactedCard + trailing
}

func luhnValid(digits []int) bool {
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	total := 0
	parity := len(digits) % 2
	for i, d := range digits {
		if i%2 == parity {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		total += d
	}
	return total%10 == 0
}
