package command

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/teamboard/internal/model"
	"github.com/nhle/teamboard/internal/theme"
)

// historySize caps the remembered palette entries.
const historySize = 20

// CommandMsg is emitted when the user executes a command.
type CommandMsg string

// Spec describes one palette command for completion and help.
type Spec struct {
	Name  string
	Usage string
	Help  string
}

// Commands is the palette vocabulary, in help order.
var Commands = []Spec{
	{Name: "refresh", Help: "refetch notifications"},
	{Name: "read-all", Help: "mark every notification read"},
	{Name: "unread", Help: "toggle unread-only"},
	{Name: "filter", Usage: "<type>", Help: "show one notification type"},
	{Name: "clear", Help: "drop all filters"},
	{Name: "sound", Usage: "on|off", Help: "sound on new notifications"},
	{Name: "desktop", Usage: "on|off", Help: "desktop notifications"},
	{Name: "toast", Usage: "on|off", Help: "in-app toasts"},
	{Name: "join", Usage: "<project>", Help: "join a project room"},
	{Name: "leave", Usage: "<project>", Help: "leave a project room"},
	{Name: "status", Usage: "<text>", Help: "set your presence status"},
	{Name: "stats", Help: "server-side counts"},
	{Name: "logout", Help: "sign out and quit"},
	{Name: "quit", Help: "exit"},
}

// suggestions expands Commands into completable lines.
func suggestions() []string {
	var out []string
	for _, c := range Commands {
		switch c.Usage {
		case "on|off":
			out = append(out, c.Name+" on", c.Name+" off")
		case "<type>":
			for _, k := range model.Kinds {
				out = append(out, c.Name+" "+string(k))
			}
		default:
			out = append(out, c.Name)
		}
	}
	return out
}

// Model is the command palette view.
type Model struct {
	input   textinput.Model
	history []string
	// cursor indexes history while browsing; len(history) means a fresh line.
	cursor int
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "type a command... (tab completes)"
	ti.Prompt = ": "
	ti.ShowSuggestions = true
	ti.SetSuggestions(suggestions())
	ti.Focus()
	ti.Width = width - 6

	return Model{
		input:  ti,
		width:  width,
		height: height,
	}
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" {
				return m, nil
			}
			m.remember(line)
			return m, func() tea.Msg { return CommandMsg(line) }
		case "up":
			m.browse(-1)
			return m, nil
		case "down":
			m.browse(1)
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) remember(line string) {
	if n := len(m.history); n == 0 || m.history[n-1] != line {
		m.history = append(m.history, line)
	}
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
	m.cursor = len(m.history)
}

func (m *Model) browse(delta int) {
	m.cursor = max(0, min(len(m.history), m.cursor+delta))
	if m.cursor == len(m.history) {
		m.input.Reset()
		return
	}
	m.input.SetValue(m.history[m.cursor])
	m.input.CursorEnd()
}

// View renders the command palette.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Command Palette"),
		m.input.View(),
	)

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Render(content)
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	m.cursor = len(m.history)
	return m.input.Focus()
}
