package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/nhle/teamboard/internal/theme"
)

// maxBadge is the largest unread count shown before switching to "99+".
const maxBadge = 99

// Layout holds the terminal dimensions and splits them into a one-line
// header, the content area and a one-line status bar.
type Layout struct {
	Width  int
	Height int
}

// NewLayout creates a Layout with the given terminal dimensions.
func NewLayout(width, height int) Layout {
	return Layout{Width: width, Height: height}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the rows left between header and status bar.
func (l Layout) ContentHeight() int {
	return max(l.Height-2, 0)
}

// Badge formats an unread count, or "" when there is nothing unread.
func Badge(unread int) string {
	switch {
	case unread <= 0:
		return ""
	case unread > maxBadge:
		return fmt.Sprintf("%d+ unread", maxBadge)
	default:
		return fmt.Sprintf("%d unread", unread)
	}
}

// RenderHeader renders the title with its unread badge on the left and
// the already styled connection status on the right. When the terminal is too narrow
// the status is cut first; the badge always stays visible.
func (l Layout) RenderHeader(title string, unread int, connStatus string) string {
	left := theme.HeaderStyle.Render(title)
	if b := Badge(unread); b != "" {
		left = lipgloss.JoinHorizontal(lipgloss.Top, left, theme.BadgeStyle.Render(b))
	}

	room := l.Width - lipgloss.Width(left)
	right := ""
	if room > 0 {
		right = ansi.Truncate(connStatus, room, "…")
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		left,
		l.fill(theme.HeaderStyle, room-lipgloss.Width(right)),
		right,
	)
}

// RenderStatusBar renders the bottom status bar with keyboard hints.
func (l Layout) RenderStatusBar(hints string) string {
	return l.renderBar(theme.StatusBarStyle, hints)
}

// RenderNotice renders the status bar in its error color, for a notice
// the user has to dismiss.
func (l Layout) RenderNotice(text string) string {
	return l.renderBar(theme.NoticeStyle, text)
}

func (l Layout) renderBar(style lipgloss.Style, text string) string {
	rendered := style.Render(ansi.Truncate(text, max(l.Width-2, 0), "…"))
	return lipgloss.JoinHorizontal(lipgloss.Top,
		rendered,
		l.fill(style, l.Width-lipgloss.Width(rendered)),
	)
}

func (l Layout) fill(style lipgloss.Style, width int) string {
	if width <= 0 {
		return ""
	}
	return lipgloss.NewStyle().
		Width(width).
		Background(style.GetBackground()).
		Render("")
}

// RenderWithFrame stacks header, content and status bar.
func (l Layout) RenderWithFrame(header, content, statusBar string) string {
	return lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
}
