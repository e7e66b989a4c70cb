package app

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/teamboard/internal/delivery"
	"github.com/nhle/teamboard/internal/dispatch"
	"github.com/nhle/teamboard/internal/notify"
	"github.com/nhle/teamboard/internal/session"
	"github.com/nhle/teamboard/internal/transport"
)

// refreshMsg tells the root model to re-read the session state.
type refreshMsg struct{}

// actionFailedMsg carries a server rejection of an optimistic action.
type actionFailedMsg struct{ err *notify.ActionError }

// toastMsg carries one in-app toast.
type toastMsg delivery.Toast

// bridge moves dispatcher signals onto channels the Bubble Tea runtime
// can wait on. Handlers never block the publisher: refresh signals
// coalesce into one pending message and the model re-reads the session
// when it arrives.
type bridge struct {
	refresh  chan struct{}
	failures chan *notify.ActionError
	toasts   <-chan delivery.Toast
}

func newBridge(s *session.Session) *bridge {
	b := &bridge{
		refresh:  make(chan struct{}, 1),
		failures: make(chan *notify.ActionError, 16),
		toasts:   s.Notifier.Toasts(),
	}
	obs := s.Aggregate.Observers()
	notify.OnChange(obs, func(notify.Change) { b.poke() })
	notify.OnActionFailed(obs, func(err *notify.ActionError) {
		select {
		case b.failures <- err:
		default:
		}
	})
	dispatch.On(s.Events, transport.EventStatus, func(transport.Status) error {
		b.poke()
		return nil
	})
	return b
}

func (b *bridge) poke() {
	select {
	case b.refresh <- struct{}{}:
	default:
	}
}

func (b *bridge) waitRefresh() tea.Cmd {
	return func() tea.Msg {
		<-b.refresh
		return refreshMsg{}
	}
}

func (b *bridge) waitFailure() tea.Cmd {
	return func() tea.Msg {
		return actionFailedMsg{err: <-b.failures}
	}
}

func (b *bridge) waitToast() tea.Cmd {
	return func() tea.Msg {
		t, ok := <-b.toasts
		if !ok {
			return nil
		}
		return toastMsg(t)
	}
}
