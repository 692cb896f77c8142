package tui

import (
	"bytes"
	"strings"

	"github.com/charmbracelet/glamour"

	"nox/internal/export"
	"nox/internal/vault"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// RenderSession renders a stored session as markdown for the terminal.
func RenderSession(sess vault.Session, width int) string {
	var buf bytes.Buffer
	if err := (export.Markdown{}).Export(sess, &buf); err != nil {
		return err.Error()
	}
	return RenderMarkdown(buf.String(), width)
}

// RoleLabel 为 REPL 输出生成带颜色的角色标签
// RoleLabel returns the coloured speaker label used by the REPL.
func RoleLabel(role vault.Role, theme Theme) string {
	switch role {
	case vault.RoleUser:
		return theme.UserStyle.Render("you")
	case vault.RoleAssistant:
		return theme.AssistantStyle.Render("nox")
	case vault.RoleInstrumentQuery, vault.RoleInstrumentResult:
		return theme.InstrumentStyle.Render("instrument")
	case vault.RoleDevShellCommand, vault.RoleDevShellResult:
		return theme.ShellStyle.Render("shell")
	default:
		return theme.MutedStyle.Render(string(role))
	}
}

func joinDots(parts []string) string {
	return strings.Join(parts, " · ")
}
