package contextmgr

import (
	"nox/internal/chat"
)

// WindowResult reports what Window kept.
type WindowResult struct {
	Messages []chat.Message
	Dropped  int // messages left out of the window
	Tokens   int // estimated tokens of Messages
}

// Window 保留开头的 system 消息和能放进 limit 的最新消息，不拆开 user/assistant 对
// Window keeps the leading system messages and the newest messages that fit
// in limit tokens. Messages are grouped into exchanges, each starting at a
// user message and running up to the next one; an exchange is kept or dropped
// whole. The newest exchange is always kept, even over budget. limit <= 0
// disables windowing.
func Window(messages []chat.Message, limit int, tok Counter) WindowResult {
	if tok == nil {
		tok = DefaultTokenizer()
	}
	if limit <= 0 || len(messages) == 0 {
		out := append([]chat.Message(nil), messages...)
		return WindowResult{Messages: out, Tokens: tok.Count(out)}
	}

	head := 0
	for head < len(messages) && messages[head].Role == chat.RoleSystem {
		head++
	}
	pinned := messages[:head]
	budget := limit - tok.Count(pinned)

	groups := exchanges(messages[head:])
	start := len(groups)
	used := 0
	for i := len(groups) - 1; i >= 0; i-- {
		cost := tok.Count(groups[i])
		if i < len(groups)-1 && used+cost > budget {
			break
		}
		used += cost
		start = i
	}

	out := make([]chat.Message, 0, len(messages))
	out = append(out, pinned...)
	dropped := 0
	for i, g := range groups {
		if i < start {
			dropped += len(g)
			continue
		}
		out = append(out, g...)
	}
	return WindowResult{Messages: out, Dropped: dropped, Tokens: tok.Count(pinned) + used}
}

// exchanges splits msgs so that every group but possibly the first begins
// with a user message.
func exchanges(msgs []chat.Message) [][]chat.Message {
	var groups [][]chat.Message
	for i, m := range msgs {
		if i == 0 || m.Role == chat.RoleUser {
			groups = append(groups, []chat.Message{m})
			continue
		}
		last := len(groups) - 1
		groups[last] = append(groups[last], m)
	}
	return groups
}

// EstimateTokens is a quick count with the default tokenizer.
func EstimateTokens(messages []chat.Message) int {
	return DefaultTokenizer().Count(messages)
}
