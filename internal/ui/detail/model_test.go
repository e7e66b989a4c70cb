package detail

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"github.com/nhle/teamboard/internal/keys"
	"github.com/nhle/teamboard/internal/model"
)

func TestRendersNotification(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 20)
	assert.Contains(t, m.View(), "No notification selected")

	m.SetNotification(model.Notification{
		ID:        "a",
		Kind:      model.KindMessage,
		Title:     "standup",
		Message:   "moved to 10:30",
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local),
		Sender:    &model.Sender{Name: "Ana"},
		Origin:    &model.Origin{ProjectID: "p1"},
	})

	view := m.View()
	assert.Contains(t, view, "standup")
	assert.Contains(t, view, "moved to 10:30")
	assert.Contains(t, view, "Ana")
	assert.Contains(t, view, "2026-03-01 09:00")
	assert.Contains(t, view, ":join p1")
	assert.Equal(t, "a", m.Showing())

	m.Clear()
	assert.Empty(t, m.Showing())
}

func TestEscGoesBack(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 20)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if assert.NotNil(t, cmd) {
		assert.Equal(t, BackMsg{}, cmd())
	}
}
