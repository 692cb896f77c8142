package markup

import "strings"

// Kind 标识片段类型
// Kind identifies the type of a lexed segment.
type Kind int

const (
	PlainText Kind = iota
	QueryMarker
	ResultMarker
	TitleMarker
	ShellMarker
	ShellResultMarker
)

var kindNames = [...]string{
	PlainText:         "text",
	QueryMarker:       "instrument_query",
	ResultMarker:      "instrument_result",
	TitleMarker:       "set_title",
	ShellMarker:       "dev_shell_command",
	ShellResultMarker: "dev_shell_result",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Segment 是词法分析输出的一个片段；所有片段的 Raw 依次拼接即为原文
// Segment is one lexed piece of text. Concatenating Raw over all segments reproduces the input.
type Segment struct {
	Kind  Kind
	Label string // only for query/result markers
	Body  string // trimmed marker content, or the literal text for PlainText
	Raw   string
}

const (
	tagQuery       = "INSTRUMENT QUERY"
	tagResult      = "INSTRUMENT RESULT"
	tagTitle       = "SET TITLE"
	tagShell       = "DEV SHELL COMMAND"
	tagShellResult = "DEV SHELL RESULT"
)

var tagKinds = map[string]Kind{
	tagQuery:       QueryMarker,
	tagResult:      ResultMarker,
	tagTitle:       TitleMarker,
	"SETTITLE":     TitleMarker,
	tagShell:       ShellMarker,
	tagShellResult: ShellResultMarker,
}

type tag struct {
	kind    Kind
	closing bool
	label   string
	start   int
	end     int
}

// Lex 将文本切分为纯文本与成对标记片段。
// 缺少配对、孤立的结束标记以及嵌套标记都按字面文本处理。
// Lex splits text into plain text and paired-marker segments. An open tag
// without its close, a stray close, or any marker containing another tag
// before its own close stays literal text.
func Lex(text string) []Segment {
	if text == "" {
		return nil
	}
	tags := scanTags(text)

	var segs []Segment
	cursor := 0
	for i := 0; i < len(tags); {
		t := tags[i]
		if t.closing {
			i++
			continue
		}
		if i+1 < len(tags) && tags[i+1].closing && tags[i+1].kind == t.kind {
			c := tags[i+1]
			if t.start > cursor {
				segs = append(segs, plain(text[cursor:t.start]))
			}
			segs = append(segs, Segment{
				Kind:  t.kind,
				Label: t.label,
				Body:  unescapeTags(strings.TrimSpace(text[t.end:c.start])),
				Raw:   text[t.start:c.end],
			})
			cursor = c.end
			i += 2
			continue
		}
		// Nested: the whole span up to this tag's own close stays literal.
		j := i + 1
		for j < len(tags) && !(tags[j].closing && tags[j].kind == t.kind) {
			j++
		}
		if j < len(tags) {
			i = j + 1
		} else {
			i++
		}
	}
	if cursor < len(text) {
		segs = append(segs, plain(text[cursor:]))
	}
	return segs
}

func plain(raw string) Segment {
	return Segment{Kind: PlainText, Body: raw, Raw: raw}
}

func scanTags(text string) []tag {
	var tags []tag
	for i := 0; i < len(text); {
		open := strings.IndexByte(text[i:], '[')
		if open < 0 {
			break
		}
		open += i
		if open > 0 && text[open-1] == '\\' {
			i = open + 1
			continue
		}
		end := strings.IndexByte(text[open+1:], ']')
		if end < 0 {
			break
		}
		end += open + 1
		inner := text[open+1 : end]
		if strings.IndexByte(inner, '[') >= 0 {
			i = open + 1
			continue
		}
		if t, ok := parseTag(inner); ok {
			t.start, t.end = open, end+1
			tags = append(tags, t)
			i = end + 1
			continue
		}
		i = open + 1
	}
	return tags
}

func parseTag(inner string) (tag, bool) {
	s := strings.TrimSpace(inner)
	closing := false
	if strings.HasPrefix(s, "/") {
		closing = true
		s = strings.TrimSpace(s[1:])
	}
	name, label, hasLabel := strings.Cut(s, ":")
	key := strings.ToUpper(strings.Join(strings.Fields(name), " "))
	kind, ok := tagKinds[key]
	if !ok {
		return tag{}, false
	}
	label = strings.TrimSpace(label)
	if hasLabel {
		if closing || label == "" || (kind != QueryMarker && kind != ResultMarker) {
			return tag{}, false
		}
	}
	return tag{kind: kind, closing: closing, label: label}, true
}

// escapeTags 在正文中每个可识别标记前加反斜杠，使其不再参与配对
// escapeTags puts a backslash before every recognized tag in body so that
// text wrapped in a marker cannot open, close or nest markers of its own.
func escapeTags(body string) string {
	tags := scanTags(body)
	if len(tags) == 0 {
		return body
	}
	var b strings.Builder
	prev := 0
	for _, t := range tags {
		b.WriteString(body[prev:t.start])
		b.WriteByte('\\')
		prev = t.start
	}
	b.WriteString(body[prev:])
	return b.String()
}

// unescapeTags reverses escapeTags. A backslash is dropped only in front of
// a recognized tag.
func unescapeTags(s string) string {
	if !strings.Contains(s, `\[`) {
		return s
	}
	var b strings.Builder
	for {
		k := strings.Index(s, `\[`)
		if k < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:k])
		rest := s[k+1:]
		if end := strings.IndexByte(rest, ']'); end > 0 {
			inner := rest[1:end]
			if _, ok := parseTag(inner); ok && strings.IndexByte(inner, '[') < 0 {
				b.WriteString(rest[:end+1])
				s = rest[end+1:]
				continue
			}
		}
		b.WriteByte('\\')
		s = rest
	}
	return b.String()
}

// Text 去掉所有标记，只保留纯文本部分
// Text drops every marker segment and returns the remaining plain text.
func Text(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		if s.Kind == PlainText {
			b.WriteString(s.Raw)
		}
	}
	return b.String()
}

// Find returns the first segment of the given kind.
func Find(segs []Segment, kind Kind) (Segment, bool) {
	for _, s := range segs {
		if s.Kind == kind {
			return s, true
		}
	}
	return Segment{}, false
}

// All returns every segment of the given kind in order.
func All(segs []Segment, kind Kind) []Segment {
	var out []Segment
	for _, s := range segs {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}
