package markup

import (
	"regexp"
	"strings"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

var (
	thinkPattern     = regexp.MustCompile(`(?is)<think>.*?</think>\s*`)
	labelPrefix      = regexp.MustCompile(`(?i)^(?:nox\s*[:：]\s*)+`)
	hardwarePrefix   = regexp.MustCompile(`(?i)^hardware\s+context\s*:\s*`)
	templateTokens   = regexp.MustCompile(`(?i)<\|/?(?:assistant|user)\|>`)
	bracketClosers   = regexp.MustCompile(`(?i)\[\s*/\s*(?:assistant|dev|user)\s*\]`)
	angleTagsClosers = regexp.MustCompile(`(?i)</\s*(?:assistant|dev|user)\s*>`)
)

// StripReasoning 移除 <think>…</think> 推理块
// StripReasoning removes <think>…</think> blocks and trims the result.
func StripReasoning(text string) string {
	return strings.TrimSpace(thinkPattern.ReplaceAllString(text, ""))
}

// PublicStream 从流式分块中增量提取公开文本，未闭合的推理块会被暂存
// PublicStream incrementally extracts public text from streamed chunks,
// holding back unterminated think blocks and partial opening tags.
type PublicStream struct {
	pending string
}

// Push feeds one chunk and returns the text that is now safe to show.
func (p *PublicStream) Push(chunk string) string {
	buf := p.pending + chunk
	var out strings.Builder
	for {
		lower := asciiLower(buf)
		open := strings.Index(lower, thinkOpen)
		if open < 0 {
			keep := partialSuffix(lower, thinkOpen)
			out.WriteString(buf[:len(buf)-keep])
			p.pending = buf[len(buf)-keep:]
			return out.String()
		}
		out.WriteString(buf[:open])
		rest := lower[open+len(thinkOpen):]
		end := strings.Index(rest, thinkClose)
		if end < 0 {
			p.pending = buf[open:]
			return out.String()
		}
		buf = buf[open+len(thinkOpen)+end+len(thinkClose):]
	}
}

// Flush returns any held-back text that turned out to be public. An
// unterminated think block is dropped.
func (p *PublicStream) Flush() string {
	rest := p.pending
	p.pending = ""
	if strings.HasPrefix(asciiLower(rest), thinkOpen) {
		return ""
	}
	return rest
}

// CleanReply 规整助手回复：去掉标签前缀、结果包装、硬件上下文回显与辅助标记
// CleanReply normalizes an assistant reply before it is shown or stored:
// label prefixes, a whole-reply result wrapper, hardware context echoes,
// marker blocks and chat template tokens are removed.
func CleanReply(text string) string {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return ""
	}
	cleaned = strings.TrimSpace(labelPrefix.ReplaceAllString(cleaned, ""))
	cleaned = UnwrapResult(cleaned)

	lines := strings.Split(cleaned, "\n")
	for len(lines) > 0 {
		first := strings.TrimSpace(lines[0])
		if first == "" {
			lines = lines[1:]
			continue
		}
		if hardwarePrefix.MatchString(first) {
			lines = lines[1:]
			continue
		}
		break
	}
	cleaned = UnwrapResult(strings.Join(lines, "\n"))

	cleaned = Text(Lex(cleaned))
	cleaned = templateTokens.ReplaceAllString(cleaned, "")
	cleaned = bracketClosers.ReplaceAllString(cleaned, "")
	cleaned = angleTagsClosers.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// asciiLower lowers ASCII letters only so byte offsets stay aligned with the input.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// partialSuffix returns the length of the longest proper prefix of tag that s ends with.
func partialSuffix(s, tag string) int {
	for k := len(tag) - 1; k > 0; k-- {
		if strings.HasSuffix(s, tag[:k]) {
			return k
		}
	}
	return 0
}
