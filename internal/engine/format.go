package engine

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"nox/internal/vault"
)

const listingTitleWidth = 48

// FormatListing renders sessions as a numbered list whose indexes match
// vault references. The live session is starred.
func FormatListing(sessions []vault.Meta, liveID string) string {
	if len(sessions) == 0 {
		return "no sessions"
	}
	var b strings.Builder
	for i, m := range sessions {
		mark := " "
		if liveID != "" && m.ID == liveID {
			mark = "*"
		}
		title := runewidth.Truncate(m.DisplayTitle(), listingTitleWidth, "…")
		title = runewidth.FillRight(title, listingTitleWidth)
		fmt.Fprintf(&b, "%s%3d. %s  %4d turns  %s\n", mark, i+1, title, m.Turns, m.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatTranscript renders a stored session for reading.
func FormatTranscript(sess vault.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n%s · %d turns\n", sess.Meta.DisplayTitle(), sess.Meta.ID, len(sess.Turns))
	for _, t := range sess.Turns {
		if t.Role == vault.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "\n[%s] %s\n%s\n", t.Timestamp.Local().Format("15:04:05"), t.Role, strings.TrimSpace(t.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}
