package vault

import (
	"fmt"
	"strings"
	"time"
)

// Role 是一条 turn 的角色
// Role is the role of one turn.
type Role string

const (
	RoleSystem           Role = "system"
	RoleUser             Role = "user"
	RoleAssistant        Role = "assistant"
	RoleInstrumentQuery  Role = "instrument_query"
	RoleInstrumentResult Role = "instrument_result"
	RoleDevShellCommand  Role = "dev_shell_command"
	RoleDevShellResult   Role = "dev_shell_result"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleInstrumentQuery,
		RoleInstrumentResult, RoleDevShellCommand, RoleDevShellResult:
		return true
	}
	return false
}

// Turn 会话中的一条不可变记录，对应日志中的一行
// Turn is one immutable entry of a session and one line of its log.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sanitized bool      `json:"sanitized"`
}

// InstrumentInfo records the session's instrument default.
type InstrumentInfo struct {
	Label     string `json:"label"`
	Automated bool   `json:"automated"`
}

// Meta 会话元数据，写入 <id>.meta.json
// Meta is the per-session metadata stored in <id>.meta.json.
type Meta struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	CustomTitle bool            `json:"custom_title"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Turns       int             `json:"turns"`
	Model       string          `json:"model,omitempty"`
	Instrument  *InstrumentInfo `json:"instrument,omitempty"`
	Sources     []string        `json:"sources,omitempty"`
	Concluded   bool            `json:"concluded"`

	// Archived is derived from the file location and never stored.
	Archived bool `json:"-"`
}

// DisplayTitle returns the title, falling back to a readable form of the id.
func (m Meta) DisplayTitle() string {
	if t := strings.TrimSpace(m.Title); t != "" {
		return t
	}
	return DisplayName(m.ID)
}

// Session 是元数据加完整 turn 序列
// Session is metadata plus the full turn sequence.
type Session struct {
	Meta  Meta
	Turns []Turn
}

// Summary 是 day rollup 中每个会话的摘要
// Summary is the per-session entry of a day rollup.
type Summary struct {
	Title       string          `json:"title"`
	CustomTitle bool            `json:"custom_title"`
	Turns       int             `json:"turns"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Instrument  *InstrumentInfo `json:"instrument,omitempty"`
}

// DayRollup 按日期聚合的会话索引，按会话 id 去重，可随时重建
// DayRollup indexes one day's sessions by id. It is derived and rebuildable.
type DayRollup struct {
	Date     string             `json:"date"`
	Sessions map[string]Summary `json:"sessions"`
}

func summaryOf(m Meta) Summary {
	return Summary{
		Title:       m.Title,
		CustomTitle: m.CustomTitle,
		Turns:       m.Turns,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		Instrument:  m.Instrument,
	}
}

const (
	sessionPrefix = "session-"
	mergedPrefix  = "session-merged-"
	idLayout      = "20060102-150405"
	dayLayout     = "2006-01-02"
)

// DisplayName 将会话 id 转为可读名称
// DisplayName turns a session id into a readable label, e.g.
// session-20261016-123456 -> "Session 2026-10-16 12:34:56 UTC".
func DisplayName(id string) string {
	for _, p := range []struct{ prefix, label string }{
		{mergedPrefix, "Merged session"},
		{sessionPrefix, "Session"},
	} {
		rest, ok := strings.CutPrefix(id, p.prefix)
		if !ok {
			continue
		}
		stamp := rest
		suffix := ""
		if len(rest) > len(idLayout) {
			stamp, suffix = rest[:len(idLayout)], rest[len(idLayout):]
		}
		ts, err := time.Parse(idLayout, stamp)
		if err != nil {
			break
		}
		name := fmt.Sprintf("%s %s UTC", p.label, ts.Format("2006-01-02 15:04:05"))
		if n := strings.TrimPrefix(suffix, "-"); n != "" {
			name += " #" + n
		}
		return name
	}
	return strings.ReplaceAll(id, "-", " ")
}
