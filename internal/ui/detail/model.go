package detail

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/teamboard/internal/keys"
	"github.com/nhle/teamboard/internal/model"
	"github.com/nhle/teamboard/internal/theme"
)

// BackMsg signals the parent to navigate back to the list view.
type BackMsg struct{}

// Model is the notification detail view component.
type Model struct {
	item     *model.Notification
	viewport viewport.Model
	keys     *keys.KeyMap
	width    int
	height   int
}

// New creates a new detail view model.
func New(keys *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     keys,
		width:    width,
		height:   height,
	}
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, m.keys.Back) {
		return m, func() tea.Msg { return BackMsg{} }
	}

	// j/k, up/down, pgup/pgdn
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the detail view.
func (m Model) View() string {
	if m.item == nil {
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("No notification selected")
	}
	return m.viewport.View()
}

// Showing returns the id of the displayed notification.
func (m Model) Showing() string {
	if m.item == nil {
		return ""
	}
	return m.item.ID
}

func (m Model) renderContent() string {
	if m.item == nil {
		return ""
	}
	n := m.item

	var sections []string
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	sections = append(sections, titleStyle.Render(n.Title))

	badges := []string{theme.KindStyle(n.Kind).Render(theme.KindLabel(n.Kind))}
	if !n.Read {
		badges = append(badges, theme.BadgeStyle.Render("unread"))
	}
	if n.Pinned {
		badges = append(badges, theme.BadgeStyle.Render("pinned"))
	}
	sections = append(sections, strings.Join(badges, "  "), "")

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	row := func(label, value string) {
		if value == "" {
			return
		}
		sections = append(sections, fmt.Sprintf("%-10s %s", metaStyle.Render(label), valStyle.Render(value)))
	}

	if n.Sender != nil {
		row("From:", n.Sender.Name)
	}
	if !n.CreatedAt.IsZero() {
		row("Created:", n.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	if n.SnoozedUntil != nil {
		row("Snoozed:", "until "+n.SnoozedUntil.Local().Format("15:04"))
	}
	if n.Origin != nil {
		row("Project:", n.Origin.ProjectID)
		row("Task:", n.Origin.TaskID)
		row("Message:", n.Origin.MessageID)
	}

	sepStyle := lipgloss.NewStyle().Foreground(theme.ColorSubtle)
	separator := sepStyle.Render(strings.Repeat("─", max(min(m.width-4, 80), 0)))
	sections = append(sections, "", separator, "")

	body := n.Message
	if body == "" {
		body = lipgloss.NewStyle().Foreground(theme.ColorGray).Italic(true).Render("No message")
	}
	sections = append(sections, body)

	if n.Kind.AllowsQuickReply() && n.ProjectID() != "" {
		sections = append(sections, "", metaStyle.Render(fmt.Sprintf("reply with :join %s to follow the conversation", n.ProjectID())))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// SetNotification updates the notification being displayed. Passing the
// same id again keeps the scroll position.
func (m *Model) SetNotification(n model.Notification) {
	same := m.item != nil && m.item.ID == n.ID
	m.item = &n
	m.viewport.SetContent(m.renderContent())
	if !same {
		m.viewport.GotoTop()
	}
}

// Clear drops the displayed notification.
func (m *Model) Clear() {
	m.item = nil
	m.viewport.SetContent("")
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 2
	m.viewport.SetContent(m.renderContent())
}
