// Package notifications is the list view of the notification center.
// It renders what it is given and reports the user's intent as messages;
// the root model turns those into service calls.
package notifications

import (
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/teamboard/internal/keys"
	"github.com/nhle/teamboard/internal/model"
	"github.com/nhle/teamboard/internal/theme"
)

// SnoozeFor is how long the snooze key hides a notification.
const SnoozeFor = time.Hour

// OpenMsg asks for a notification to be shown in full.
type OpenMsg struct{ ID string }

// MarkReadMsg asks for one notification to be marked read.
type MarkReadMsg struct{ ID string }

// MarkAllReadMsg asks for every notification to be marked read.
type MarkAllReadMsg struct{}

// DeleteMsg asks for one notification to be deleted.
type DeleteMsg struct{ ID string }

// PinMsg asks for a notification to be pinned or unpinned.
type PinMsg struct {
	ID     string
	Pinned bool
}

// SnoozeMsg asks for a notification to be hidden for a while.
type SnoozeMsg struct {
	ID  string
	For time.Duration
}

// FilterChangedMsg carries the filter the user selected.
type FilterChangedMsg struct{ Filter model.Filter }

// Model is the notification list view component.
type Model struct {
	list      list.Model
	keys      *keys.KeyMap
	filter    model.Filter
	kindIndex int
	width     int
	height    int
}

// New creates a new notification list model.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height)
	l.Title = "Notifications"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	return Model{
		list:   l,
		keys:   k,
		width:  width,
		height: height,
	}
}

// SetNotifications replaces the displayed items, keeping the cursor on
// the same notification when it is still present.
func (m *Model) SetNotifications(ns []model.Notification) tea.Cmd {
	selected, hadSelection := m.Selected()
	items := make([]list.Item, len(ns))
	for i, n := range ns {
		items[i] = Item{Notification: n}
	}
	cmd := m.list.SetItems(items)
	if hadSelection {
		for i, n := range ns {
			if n.ID == selected.ID {
				m.list.Select(i)
				break
			}
		}
	}
	return cmd
}

// Selected returns the notification under the cursor.
func (m Model) Selected() (model.Notification, bool) {
	it, ok := m.list.SelectedItem().(Item)
	if !ok {
		return model.Notification{}, false
	}
	return it.Notification, true
}

// SetFilter syncs the view with a filter applied elsewhere, such as the
// command palette.
func (m *Model) SetFilter(f model.Filter) {
	m.filter = f
	m.kindIndex = 0
	for i, k := range model.Kinds {
		if k == f.Kind {
			m.kindIndex = i + 1
		}
	}
}

// Filter returns the filter the view is showing.
func (m Model) Filter() model.Filter { return m.filter }

// Update handles messages for the list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		if cmd, handled := m.handleKeys(msg); handled {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.MarkAllRead):
		return emit(MarkAllReadMsg{}), true

	case key.Matches(msg, m.keys.CycleKind):
		// index 0 is "all kinds"
		m.kindIndex = (m.kindIndex + 1) % (len(model.Kinds) + 1)
		m.filter.Kind = ""
		if m.kindIndex > 0 {
			m.filter.Kind = model.Kinds[m.kindIndex-1]
		}
		return emit(FilterChangedMsg{Filter: m.filter}), true

	case key.Matches(msg, m.keys.UnreadOnly):
		m.filter.UnreadOnly = !m.filter.UnreadOnly
		return emit(FilterChangedMsg{Filter: m.filter}), true
	}

	n, ok := m.Selected()
	if !ok {
		return nil, false
	}
	switch {
	case key.Matches(msg, m.keys.Open):
		return emit(OpenMsg{ID: n.ID}), true
	case key.Matches(msg, m.keys.MarkRead):
		if n.Read {
			return nil, true
		}
		return emit(MarkReadMsg{ID: n.ID}), true
	case key.Matches(msg, m.keys.Delete):
		return emit(DeleteMsg{ID: n.ID}), true
	case key.Matches(msg, m.keys.Pin):
		return emit(PinMsg{ID: n.ID, Pinned: !n.Pinned}), true
	case key.Matches(msg, m.keys.Snooze):
		return emit(SnoozeMsg{ID: n.ID, For: SnoozeFor}), true
	}
	return nil, false
}

func emit(msg tea.Msg) tea.Cmd {
	return func() tea.Msg { return msg }
}

// View renders the list.
func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}
	return m.list.View()
}

// FilterSummary describes the active filter for the status bar, or "".
func (m Model) FilterSummary() string {
	summary := ""
	if m.filter.Kind != "" {
		summary = "type: " + string(m.filter.Kind)
	}
	if m.filter.UnreadOnly {
		if summary != "" {
			summary += ", "
		}
		summary += "unread only"
	}
	return summary
}

// renderEmptyState shows guidance text when nothing is visible.
func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.filter != (model.Filter{}) {
		return style.Render("No matching notifications.\nPress tab or u to change the filter.")
	}
	return style.Render("You're all caught up.")
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height)
}
