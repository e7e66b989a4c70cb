package help

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/teamboard/internal/keys"
	"github.com/nhle/teamboard/internal/theme"
	"github.com/nhle/teamboard/internal/ui/command"
)

// Model is the help overlay: key bindings, then palette commands.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	width  int
	height int
}

// New creates a new help view model.
func New(keys *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.Width = width
	h.ShowAll = true
	return Model{
		keys:   keys,
		help:   h,
		width:  width,
		height: height,
	}
}

// View renders the help overlay.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Keyboard Shortcuts"),
		m.help.View(m.keys),
		"",
		titleStyle.Render("Commands (press :)"),
		commandTable(),
	)

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Height(m.height - 4).
		Render(content)
}

func commandTable() string {
	nameStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	descStyle := theme.DimmedStyle

	width := 0
	for _, c := range command.Commands {
		width = max(width, len(usage(c)))
	}
	lines := make([]string, 0, len(command.Commands))
	for _, c := range command.Commands {
		lines = append(lines, fmt.Sprintf("%s  %s",
			nameStyle.Render(fmt.Sprintf("%-*s", width, usage(c))),
			descStyle.Render(c.Help)))
	}
	return strings.Join(lines, "\n")
}

func usage(c command.Spec) string {
	if c.Usage == "" {
		return c.Name
	}
	return c.Name + " " + c.Usage
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
