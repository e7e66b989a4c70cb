package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/teamboard/internal/model"
	"github.com/nhle/teamboard/internal/session"
	appsync "github.com/nhle/teamboard/internal/sync"
	"github.com/nhle/teamboard/internal/theme"
	"github.com/nhle/teamboard/internal/transport"
	"github.com/nhle/teamboard/internal/ui"
	"github.com/nhle/teamboard/internal/ui/command"
	"github.com/nhle/teamboard/internal/ui/detail"
	helpview "github.com/nhle/teamboard/internal/ui/help"
	"github.com/nhle/teamboard/internal/ui/notifications"
)

// actionTimeout bounds one REST round trip started from the UI.
const actionTimeout = 30 * time.Second

// toastDuration is how long a toast stays in the status bar.
const toastDuration = 4 * time.Second

// startedMsg reports the outcome of the session start.
type startedMsg struct{ err error }

// doneMsg reports the outcome of a command that is not an
// optimistic action (those report through actionFailedMsg).
type doneMsg struct {
	info string
	err  error
}

// loggedOutMsg carries the outcome of the logout command. The program
// only quits once credentials are gone.
type loggedOutMsg struct{ err error }

type toastExpiredMsg struct{ seq int }

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewHelp
	ViewCommand
	ViewDetail
)

// Model is the root Bubble Tea model that manages view routing, layout,
// and the session the views act on.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	sess         *session.Session
	bridge       *bridge
	keys         *KeyMap
	list         notifications.Model
	helpView     helpview.Model
	commandView  command.Model
	detailView   detail.Model
	ready        bool

	status  transport.Status
	summary model.Summary
	resync  appsync.ResyncStatus

	toast    string
	toastSeq int
	notice   string
	quitting bool
}

// New creates the root model for sess. The session is started by Init.
func New(sess *session.Session) Model {
	keys := DefaultKeyMap()
	return Model{
		currentView: ViewList,
		sess:        sess,
		bridge:      newBridge(sess),
		keys:        keys,
		list:        notifications.New(keys, 80, 22),
		helpView:    helpview.New(keys, 80, 22),
		commandView: command.New(80, 22),
		detailView:  detail.New(keys, 80, 22),
	}
}

// Init starts the session and begins listening for its signals.
func (m Model) Init() tea.Cmd {
	sess := m.sess
	return tea.Batch(
		func() tea.Msg {
			return startedMsg{err: sess.Start(context.Background())}
		},
		m.bridge.waitRefresh(),
		m.bridge.waitFailure(),
		m.bridge.waitToast(),
		sess.Resync.WaitForNextResult(),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		contentWidth := m.layout.ContentWidth()
		contentHeight := m.layout.ContentHeight()
		m.list.SetSize(contentWidth, contentHeight)
		m.helpView.SetSize(contentWidth, contentHeight)
		m.commandView.SetSize(contentWidth, contentHeight)
		m.detailView.SetSize(contentWidth, contentHeight)
		return m, nil

	case startedMsg:
		if msg.err != nil {
			if transport.IsUnauthenticated(msg.err) {
				m.notice = "not signed in: run `teamboard login`"
			} else {
				m.notice = msg.err.Error()
			}
		}
		cmd := m.reload()
		return m, cmd

	case refreshMsg:
		cmd := m.reload()
		return m, tea.Batch(cmd, m.bridge.waitRefresh())

	case actionFailedMsg:
		m.notice = fmt.Sprintf("%s failed: %v", strings.ReplaceAll(msg.err.Action, "_", " "), msg.err.Err)
		return m, m.bridge.waitFailure()

	case toastMsg:
		m.toastSeq++
		m.toast = fmt.Sprintf("%s  %s", theme.KindLabel(msg.Kind), msg.Title)
		seq := m.toastSeq
		return m, tea.Batch(
			m.bridge.waitToast(),
			tea.Tick(toastDuration, func(time.Time) tea.Msg { return toastExpiredMsg{seq: seq} }),
		)

	case toastExpiredMsg:
		if msg.seq == m.toastSeq {
			m.toast = ""
		}
		return m, nil

	case appsync.ResyncResultMsg:
		m.resync = m.sess.Resync.Status()
		if msg.AuthExpired {
			m.notice = "session expired: run `teamboard login`"
		}
		return m, m.sess.Resync.WaitForNextResult()

	case doneMsg:
		if msg.err != nil {
			m.notice = msg.err.Error()
		} else if msg.info != "" {
			m.toast = msg.info
		}
		return m, nil

	case loggedOutMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("logout incomplete: %v", msg.err)
			return m, nil
		}
		return m.quit()

	case notifications.OpenMsg:
		n, ok := m.sess.Aggregate.Get(msg.ID)
		if !ok {
			return m, nil
		}
		m.detailView.SetNotification(n)
		m.previousView = ViewList
		m.currentView = ViewDetail
		if n.Read {
			return m, nil
		}
		return m, m.act(func(ctx context.Context) error { return m.sess.Service.MarkAsRead(ctx, msg.ID) })

	case detail.BackMsg:
		m.currentView = ViewList
		return m, nil

	case notifications.MarkReadMsg:
		return m, m.act(func(ctx context.Context) error { return m.sess.Service.MarkAsRead(ctx, msg.ID) })

	case notifications.MarkAllReadMsg:
		return m, m.act(m.sess.Service.MarkAllAsRead)

	case notifications.DeleteMsg:
		return m, m.act(func(ctx context.Context) error { return m.sess.Service.DeleteNotification(ctx, msg.ID) })

	case notifications.PinMsg:
		if msg.Pinned {
			m.sess.Service.PinNotification(msg.ID)
		} else {
			m.sess.Service.UnpinNotification(msg.ID)
		}
		return m, nil

	case notifications.SnoozeMsg:
		m.sess.Service.SnoozeNotification(msg.ID, msg.For)
		return m, nil

	case notifications.FilterChangedMsg:
		m.sess.Service.UpdateFilters(msg.Filter)
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		cmd := m.executeCommand(string(msg))
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m.quit()

		case "q":
			if m.currentView == ViewList {
				return m.quit()
			}

		case "?":
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			if m.currentView == ViewList {
				m.previousView = m.currentView
				m.currentView = ViewHelp
				return m, nil
			}

		case ":":
			if m.currentView == ViewList {
				m.previousView = m.currentView
				m.currentView = ViewCommand
				return m, m.commandView.Focus()
			}

		case "esc":
			if m.currentView != ViewList {
				m.currentView = ViewList
				return m, nil
			}
		}

		if m.currentView == ViewList {
			switch {
			case key.Matches(msg, m.keys.Refresh):
				return m, m.sess.Resync.Refresh()
			case key.Matches(msg, m.keys.Dismiss):
				m.notice = ""
				return m, nil
			}
		}
	}

	return m.updateActiveView(msg)
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.sess.Resync.Stop()
	return m, tea.Quit
}

// act runs a service action off the UI goroutine. Server rejections are
// reported through actionFailedMsg, so only the outcome is dropped here.
func (m Model) act(fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		_ = fn(ctx)
		return nil
	}
}

// reload copies the session state into the model.
func (m *Model) reload() tea.Cmd {
	m.status = m.sess.Conn.Status()
	m.summary = m.sess.Service.Summary()
	m.resync = m.sess.Resync.Status()
	m.list.SetFilter(m.sess.Aggregate.Filter())
	if id := m.detailView.Showing(); id != "" {
		if n, ok := m.sess.Aggregate.Get(id); ok {
			m.detailView.SetNotification(n)
		} else {
			m.detailView.Clear()
			if m.currentView == ViewDetail {
				m.currentView = ViewList
			}
		}
	}
	return m.list.SetNotifications(m.sess.Service.FilteredNotifications())
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewList:
		m.list, cmd = m.list.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	case ViewDetail:
		m.detailView, cmd = m.detailView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("teamboard", m.summary.Unread, m.connectionStatus())
	content := m.renderContent()
	statusBar := m.layout.RenderStatusBar(m.statusLine())
	if m.notice != "" && m.currentView == ViewList {
		statusBar = m.layout.RenderNotice(m.notice + "  (x to dismiss)")
	}

	return m.layout.RenderWithFrame(header, content, statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewList:
		return m.list.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	case ViewDetail:
		return m.detailView.View()
	default:
		return ""
	}
}

// connectionStatus describes the live connection for the header. A
// reconnect in progress stays visible until it settles.
func (m Model) connectionStatus() string {
	label := m.status.String()
	switch {
	case m.status.State == transport.StateConnected:
		label = "● live"
	case m.status.Reconnecting():
		label = fmt.Sprintf("◌ reconnecting (attempt %d)", m.status.Attempt)
	case m.status.State == transport.StateError:
		label = "✕ offline"
		if transport.IsUnauthenticated(m.status.Err) {
			label = "✕ signed out"
		}
	case m.status.State == transport.StateDisconnected:
		label = "○ offline"
	}
	if m.resync.State == appsync.ResyncRunning {
		label += " · syncing"
	}
	return theme.ConnectionStyle(m.status).Render(label)
}

// statusLine returns the toast, or keyboard hints when there is none.
func (m Model) statusLine() string {
	if m.toast != "" && m.currentView == ViewList {
		return theme.ToastStyle.Render(m.toast)
	}

	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | esc back"
	case ViewDetail:
		return "j/k scroll | esc back"
	default:
		if f := m.list.FilterSummary(); f != "" {
			return f + " | tab/u change filter"
		}
		return "q quit | ? help | enter open | m read | M read all | d delete | p pin | s snooze | : command"
	}
}
