package notifications

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/teamboard/internal/keys"
	"github.com/nhle/teamboard/internal/model"
)

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m Model, k tea.KeyMsg) (Model, tea.Msg) {
	t.Helper()
	m, cmd := m.Update(k)
	if cmd == nil {
		return m, nil
	}
	return m, cmd()
}

func newList(ns ...model.Notification) Model {
	m := New(keys.DefaultKeyMap(), 80, 20)
	m.SetNotifications(ns)
	return m
}

func TestActionKeysTargetSelection(t *testing.T) {
	m := newList(
		model.Notification{ID: "a", Title: "first"},
		model.Notification{ID: "b", Title: "second", Pinned: true},
	)

	_, msg := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, OpenMsg{ID: "a"}, msg)

	_, msg = press(t, m, runes("m"))
	assert.Equal(t, MarkReadMsg{ID: "a"}, msg)

	_, msg = press(t, m, runes("d"))
	assert.Equal(t, DeleteMsg{ID: "a"}, msg)

	_, msg = press(t, m, runes("s"))
	assert.Equal(t, SnoozeMsg{ID: "a", For: SnoozeFor}, msg)

	m, _ = press(t, m, runes("j"))
	_, msg = press(t, m, runes("p"))
	assert.Equal(t, PinMsg{ID: "b", Pinned: false}, msg)

	_, msg = press(t, m, runes("M"))
	assert.Equal(t, MarkAllReadMsg{}, msg)
}

func TestMarkReadOnReadItemDoesNothing(t *testing.T) {
	m := newList(model.Notification{ID: "a", Read: true})

	_, msg := press(t, m, runes("m"))

	assert.Nil(t, msg)
}

func TestFilterKeys(t *testing.T) {
	m := newList()

	m, msg := press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.IsType(t, FilterChangedMsg{}, msg)
	assert.Equal(t, model.Kinds[0], msg.(FilterChangedMsg).Filter.Kind)

	m, msg = press(t, m, runes("u"))
	assert.Equal(t, model.Filter{Kind: model.Kinds[0], UnreadOnly: true}, msg.(FilterChangedMsg).Filter)
	assert.Contains(t, m.FilterSummary(), "unread only")

	for range model.Kinds {
		m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	}
	assert.Equal(t, model.Kind(""), m.Filter().Kind, "cycling wraps back to all kinds")
}

func TestSelectionFollowsNotificationAcrossUpdates(t *testing.T) {
	m := newList(model.Notification{ID: "a"}, model.Notification{ID: "b"})
	m, _ = press(t, m, runes("j"))

	m.SetNotifications([]model.Notification{{ID: "new"}, {ID: "a"}, {ID: "b"}})

	n, ok := m.Selected()
	require.True(t, ok)
	assert.Equal(t, "b", n.ID)
}

func TestEmptyStates(t *testing.T) {
	m := newList()
	assert.Contains(t, m.View(), "caught up")

	m, _ = press(t, m, runes("u"))
	assert.Contains(t, m.View(), "No matching")
}

func TestRenderLine(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	n := model.Notification{
		ID:        "a",
		Kind:      model.KindTaskOverdue,
		Title:     "Ship it",
		Pinned:    true,
		Sender:    &model.Sender{Name: "Ana"},
		CreatedAt: now.Add(-2 * time.Hour),
	}

	line := renderLine(n, false, now)

	for _, want := range []string{"●", "★", "OVERDUE", "Ship it", "from Ana", "2h ago"} {
		assert.True(t, strings.Contains(line, want), "missing %q in %q", want, line)
	}
}
