package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"nox/internal/vault"
)

// Screen 浏览器当前页面
// Screen identifies the browser page
type Screen int

const (
	ScreenList Screen = iota
	ScreenSession
)

// Source 提供会话列表与内容；*vault.Vault 满足该接口
// Source lists and loads sessions. *vault.Vault satisfies it.
type Source interface {
	List(opts vault.ListOptions) (vault.ListResult, error)
	Load(ref string) (vault.Session, error)
}

// --- Tea Messages ---

// SessionsMsg carries a fresh listing.
type SessionsMsg struct {
	Sessions []vault.Meta
	Problems int
	Err      error
}

// SessionMsg carries one loaded session.
type SessionMsg struct {
	Session vault.Session
	Err     error
}

// Browser 会话浏览器的 Bubble Tea Model
// Browser is the Bubble Tea model behind `nox sessions browse`.
type Browser struct {
	src Source

	// 布局 / Layout
	width  int
	height int

	// 列表 / Listing
	screen   Screen
	archived bool
	sessions []vault.Meta
	cursor   int
	offset   int
	problems int

	// 过滤 / Filter
	filter    textinput.Model
	filtering bool

	// 详情 / Detail
	detail  viewport.Model
	current vault.Session
	damaged bool

	lastError string

	theme  Theme
	keys   KeyMap
	render func(sess vault.Session, width int) string
}

// NewBrowser 创建会话浏览器
// NewBrowser creates a session browser over src.
func NewBrowser(src Source) Browser {
	ti := textinput.New()
	ti.Prompt = "/"
	ti.Placeholder = "filter by title or content"
	ti.CharLimit = 256
	ti.Cursor.SetMode(cursor.CursorStatic)

	return Browser{
		src:    src,
		screen: ScreenList,
		filter: ti,
		detail: viewport.New(80, 20),
		theme:  DarkTheme(),
		keys:   DefaultKeyMap(),
		render: RenderSession,
	}
}

func (b Browser) Init() tea.Cmd {
	return b.loadSessions()
}

func (b Browser) loadSessions() tea.Cmd {
	src := b.src
	opts := vault.ListOptions{Filter: b.filter.Value(), Archived: b.archived}
	return func() tea.Msg {
		res, err := src.List(opts)
		return SessionsMsg{Sessions: res.Sessions, Problems: len(res.Problems), Err: err}
	}
}

func (b Browser) loadSession(id string) tea.Cmd {
	src := b.src
	return func() tea.Msg {
		sess, err := src.Load(id)
		return SessionMsg{Session: sess, Err: err}
	}
}

func (b Browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		b.width = msg.Width
		b.height = msg.Height
		b.relayout()
		return b, nil

	case SessionsMsg:
		b.lastError = ""
		if msg.Err != nil {
			b.lastError = msg.Err.Error()
		}
		b.sessions = msg.Sessions
		b.problems = msg.Problems
		b.clampCursor()
		return b, nil

	case SessionMsg:
		if msg.Err != nil && !errors.Is(msg.Err, vault.ErrCorruptLog) {
			b.lastError = msg.Err.Error()
			return b, nil
		}
		b.lastError = ""
		b.current = msg.Session
		b.damaged = msg.Err != nil
		b.screen = ScreenSession
		b.detail.SetContent(b.render(msg.Session, b.detail.Width))
		b.detail.GotoTop()
		return b, nil

	case tea.KeyMsg:
		if b.filtering {
			return b.updateFilter(msg)
		}
		if key.Matches(msg, b.keys.Quit) {
			return b, tea.Quit
		}
		if b.screen == ScreenSession {
			return b.updateSession(msg)
		}
		return b.updateList(msg)
	}
	return b, nil
}

func (b Browser) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		b.filtering = false
		b.filter.Blur()
		b.cursor = 0
		return b, b.loadSessions()
	case tea.KeyEsc:
		b.filtering = false
		b.filter.Blur()
		b.filter.SetValue("")
		b.cursor = 0
		return b, b.loadSessions()
	}
	var cmd tea.Cmd
	b.filter, cmd = b.filter.Update(msg)
	return b, cmd
}

func (b Browser) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, b.keys.Up):
		b.cursor--
		b.clampCursor()
	case key.Matches(msg, b.keys.Down):
		b.cursor++
		b.clampCursor()
	case key.Matches(msg, b.keys.Open):
		if len(b.sessions) > 0 {
			return b, b.loadSession(b.sessions[b.cursor].ID)
		}
	case key.Matches(msg, b.keys.Filter):
		b.filtering = true
		return b, b.filter.Focus()
	case key.Matches(msg, b.keys.ToggleArchive):
		b.archived = !b.archived
		b.cursor = 0
		return b, b.loadSessions()
	case key.Matches(msg, b.keys.Refresh):
		return b, b.loadSessions()
	}
	return b, nil
}

func (b Browser) updateSession(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, b.keys.Back):
		b.screen = ScreenList
		return b, nil
	case key.Matches(msg, b.keys.Up):
		b.detail.LineUp(1)
	case key.Matches(msg, b.keys.Down):
		b.detail.LineDown(1)
	case key.Matches(msg, b.keys.PageUp):
		b.detail.ViewUp()
	case key.Matches(msg, b.keys.PageDown):
		b.detail.ViewDown()
	}
	return b, nil
}

func (b *Browser) clampCursor() {
	if b.cursor >= len(b.sessions) {
		b.cursor = len(b.sessions) - 1
	}
	if b.cursor < 0 {
		b.cursor = 0
	}
	rows := b.listRows()
	if b.cursor < b.offset {
		b.offset = b.cursor
	}
	if b.cursor >= b.offset+rows {
		b.offset = b.cursor - rows + 1
	}
}

// listRows is how many listing rows fit between header and status bar.
func (b Browser) listRows() int {
	if b.height <= 0 {
		return 20
	}
	return max(b.height-3, 1)
}

func (b *Browser) relayout() {
	width := max(b.width, 20)
	b.detail.Width = width
	b.detail.Height = max(b.height-2, 3)
	b.filter.Width = width - 4
	if b.screen == ScreenSession {
		b.detail.SetContent(b.render(b.current, width))
	}
	b.clampCursor()
}

func (b Browser) View() string {
	if b.width == 0 || b.height == 0 {
		return "Loading sessions..."
	}
	header := b.renderHeader()
	var body string
	if b.screen == ScreenSession {
		body = b.detail.View()
	} else {
		body = b.renderList()
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, body, b.renderStatusBar())
}

// --- 渲染方法 / Render methods ---

func (b Browser) renderHeader() string {
	if b.screen == ScreenSession {
		title := b.current.Meta.DisplayTitle()
		if b.damaged {
			title += " (log damaged, showing readable turns)"
		}
		return b.theme.TitleStyle.Render(" " + title)
	}
	scope := "sessions"
	if b.archived {
		scope = "archive"
	}
	if b.filtering {
		return b.filter.View()
	}
	line := fmt.Sprintf(" nox %s (%d)", scope, len(b.sessions))
	if f := b.filter.Value(); f != "" {
		line += fmt.Sprintf("  filter: %q", f)
	}
	return b.theme.TitleStyle.Render(line)
}

func (b Browser) renderList() string {
	rows := b.listRows()
	if len(b.sessions) == 0 {
		return lipgloss.NewStyle().Height(rows).Render(b.theme.MutedStyle.Render("  no sessions"))
	}
	titleWidth := max(b.width-32, 10)
	end := min(b.offset+rows, len(b.sessions))
	lines := make([]string, 0, end-b.offset)
	for i := b.offset; i < end; i++ {
		m := b.sessions[i]
		title := runewidth.FillRight(runewidth.Truncate(m.DisplayTitle(), titleWidth, "…"), titleWidth)
		row := fmt.Sprintf(" %3d. %s %4d  %s", i+1, title, m.Turns, m.UpdatedAt.Local().Format("01-02 15:04"))
		if i == b.cursor {
			row = b.theme.SelectedStyle.Render(row)
		}
		lines = append(lines, row)
	}
	return lipgloss.NewStyle().Height(rows).Render(strings.Join(lines, "\n"))
}

func (b Browser) renderStatusBar() string {
	var left string
	switch {
	case b.lastError != "":
		left = b.theme.ErrorStyle.Render(" " + b.lastError)
	case b.screen == ScreenSession:
		left = " " + helpLine(b.keys.Back, b.keys.PageDown, b.keys.Quit)
	default:
		left = " " + helpLine(b.keys.Open, b.keys.Filter, b.keys.ToggleArchive, b.keys.Quit)
	}
	right := ""
	if b.problems > 0 {
		right = fmt.Sprintf("%d unreadable  ", b.problems)
	}
	gap := max(b.width-lipgloss.Width(left)-lipgloss.Width(right), 0)
	return b.theme.StatusBarStyle.Width(b.width).Render(left + strings.Repeat(" ", gap) + right)
}

// Run 启动会话浏览器
// Run starts the session browser
func Run(src Source) error {
	p := tea.NewProgram(NewBrowser(src), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
