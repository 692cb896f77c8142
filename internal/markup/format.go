package markup

import "strings"

// FormatQuery 生成 instrument 查询标记块
// FormatQuery wraps body in an instrument query marker, tagged with label when given.
func FormatQuery(label, body string) string {
	return wrap(tagQuery, label, body)
}

// FormatResult 生成 instrument 结果标记块
// FormatResult wraps body in an instrument result marker.
func FormatResult(label, body string) string {
	return wrap(tagResult, label, body)
}

// FormatShellCommand wraps a proposed command in a dev shell command marker.
func FormatShellCommand(command string) string {
	return wrap(tagShell, "", command)
}

// FormatShellResult wraps command output in a dev shell result marker.
func FormatShellResult(body string) string {
	return wrap(tagShellResult, "", body)
}

func wrap(name, label, body string) string {
	open := "[" + name + "]"
	if label = strings.TrimSpace(label); label != "" {
		open = "[" + name + ": " + label + "]"
	}
	return open + "\n" + escapeTags(strings.TrimSpace(body)) + "\n[/" + name + "]"
}

// ParseResult 要求整段文本恰好是一个结果标记（允许首尾空白）
// ParseResult reports whether text is exactly one well-formed result marker,
// ignoring surrounding whitespace.
func ParseResult(text string) (Segment, bool) {
	var (
		found Segment
		seen  bool
	)
	for _, s := range Lex(text) {
		switch {
		case s.Kind == PlainText:
			if strings.TrimSpace(s.Raw) != "" {
				return Segment{}, false
			}
		case s.Kind == ResultMarker && !seen:
			found, seen = s, true
		default:
			return Segment{}, false
		}
	}
	return found, seen
}

// UnwrapResult returns the body of text when it is a single result marker,
// otherwise the trimmed text itself.
func UnwrapResult(text string) string {
	if seg, ok := ParseResult(text); ok {
		return seg.Body
	}
	return strings.TrimSpace(text)
}

const helpPhrase = "requires an instrument"

// WantsInstrument 判断模型回复是否主动请求 instrument
// WantsInstrument reports whether a reply asks for an instrument, either with
// a well-formed query marker or the plain-language phrase.
func WantsInstrument(text string) bool {
	if _, ok := Find(Lex(text), QueryMarker); ok {
		return true
	}
	return strings.Contains(strings.ToLower(text), helpPhrase)
}
