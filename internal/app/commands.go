package app

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/teamboard/internal/model"
)

// executeCommand handles a command string from the command palette.
func (m *Model) executeCommand(input string) tea.Cmd {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return nil
	}
	name, args := fields[0], fields[1:]
	svc := m.sess.Service

	switch name {
	case "refresh", "sync":
		return m.sess.Resync.Refresh()

	case "quit", "q":
		m.quitting = true
		m.sess.Resync.Stop()
		return tea.Quit

	case "read-all":
		return m.act(svc.MarkAllAsRead)

	case "unread":
		f := svc.Aggregate().Filter()
		f.UnreadOnly = !f.UnreadOnly
		svc.UpdateFilters(f)
		return nil

	case "filter":
		if len(args) != 1 {
			return failed(fmt.Errorf("usage: filter <type>"))
		}
		kind := model.Kind(args[0])
		if kind.Normalize() != kind {
			return failed(fmt.Errorf("unknown type %q", args[0]))
		}
		svc.UpdateFilters(model.Filter{Kind: kind, UnreadOnly: svc.Aggregate().Filter().UnreadOnly})
		return nil

	case "clear":
		svc.UpdateFilters(model.Filter{})
		return nil

	case "sound", "desktop", "toast":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return failed(fmt.Errorf("usage: %s on|off", name))
		}
		return m.setPreference(name, args[0] == "on")

	case "join", "leave":
		if len(args) != 1 {
			return failed(fmt.Errorf("usage: %s <project-id>", name))
		}
		if name == "join" {
			m.sess.Presence.JoinRoom(args[0])
		} else {
			m.sess.Presence.LeaveRoom(args[0])
		}
		return nil

	case "status":
		if len(args) == 0 {
			return failed(fmt.Errorf("usage: status <text>"))
		}
		status := strings.Join(args, " ")
		return func() tea.Msg {
			if err := m.sess.Presence.UpdateStatus(status); err != nil {
				return doneMsg{err: fmt.Errorf("updating status: %w", err)}
			}
			return doneMsg{info: "status: " + status}
		}

	case "stats":
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
			defer cancel()
			st, err := svc.Stats(ctx)
			if err != nil {
				return doneMsg{err: err}
			}
			return doneMsg{info: fmt.Sprintf("total %d, unread %d, today %d", st.Total, st.Unread, st.Today)}
		}

	case "logout":
		sess := m.sess
		return func() tea.Msg {
			return loggedOutMsg{err: sess.Logout(context.Background())}
		}

	default:
		return failed(fmt.Errorf("unknown command %q", name))
	}
}

func (m *Model) setPreference(name string, on bool) tea.Cmd {
	svc := m.sess.Service
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		p, err := svc.Preferences(ctx)
		if err != nil {
			return doneMsg{err: err}
		}
		switch name {
		case "sound":
			p.Sound = on
		case "desktop":
			p.Desktop = on
		case "toast":
			p.Toast = on
		}
		if err := svc.UpdatePreferences(ctx, p); err != nil {
			// Server rejections arrive as an action failure; the
			// local copy is saved either way.
			return nil
		}
		return doneMsg{info: fmt.Sprintf("%s %s", name, onOff(on))}
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func failed(err error) tea.Cmd {
	return func() tea.Msg { return doneMsg{err: err} }
}
