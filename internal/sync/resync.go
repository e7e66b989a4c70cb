// Package sync recovers notifications missed while the real-time
// connection was down by refetching the REST list.
package sync

import (
	"context"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/nhle/teamboard/internal/dispatch"
	"github.com/nhle/teamboard/internal/transport"
)

// Reason says what triggered a resync.
type Reason string

const (
	ReasonReconnect Reason = "reconnect"
	ReasonOffline   Reason = "offline"
	ReasonManual    Reason = "manual"
)

// ResyncState represents the current state of the resyncer.
type ResyncState int

const (
	ResyncIdle ResyncState = iota
	ResyncRunning
	ResyncError
)

// ResyncStatus holds the outcome of the last resync.
type ResyncStatus struct {
	State    ResyncState
	LastSync time.Time
	Error    error
}

// ResyncResultMsg is a tea.Msg sent when a resync completes.
type ResyncResultMsg struct {
	Reason Reason
	Error  error

	// AuthExpired is set when the refetch was rejected for credentials.
	AuthExpired bool
}

// Refresher reloads the notification list. *notify.Service implements it.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// fetchTimeout is the maximum time allowed for a single refetch.
const fetchTimeout = 30 * time.Second

// DefaultInterval is the offline retry period when none is configured.
const DefaultInterval = 60 * time.Second

// Resyncer refetches after every reconnect and periodically while the
// socket is down.
type Resyncer struct {
	svc      Refresher
	log      logrus.FieldLogger
	interval time.Duration

	resultCh  chan ResyncResultMsg
	triggerCh chan Reason
	stopCh    chan struct{}

	mu            gosync.Mutex
	running       bool
	online        bool
	seenConnected bool
	status        ResyncStatus
}

// New creates a Resyncer. A non-positive interval uses DefaultInterval.
func New(svc Refresher, interval time.Duration, log logrus.FieldLogger) *Resyncer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resyncer{
		svc:       svc,
		log:       log.WithField("component", "resync"),
		interval:  interval,
		resultCh:  make(chan ResyncResultMsg, 16),
		triggerCh: make(chan Reason, 16),
		stopCh:    make(chan struct{}),
	}
}

// Bind follows connection status. The first connect is not a reconnect:
// the session loads the list itself at startup.
func (r *Resyncer) Bind(sub dispatch.Subscriber) *dispatch.Handle {
	return dispatch.On(sub, transport.EventStatus, func(st transport.Status) error {
		r.mu.Lock()
		wasSeen := r.seenConnected
		r.online = st.State == transport.StateConnected
		if r.online {
			r.seenConnected = true
		}
		r.mu.Unlock()

		if st.State == transport.StateConnected && wasSeen {
			r.trigger(ReasonReconnect)
		}
		return nil
	})
}

// Start launches the background loop and returns a tea.Cmd that waits
// for the first result.
func (r *Resyncer) Start() tea.Cmd {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	go r.loop()
	return r.WaitForNextResult()
}

// Stop halts the background loop.
func (r *Resyncer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	close(r.stopCh)
	r.running = false
}

// Refresh triggers an immediate resync.
func (r *Resyncer) Refresh() tea.Cmd {
	r.trigger(ReasonManual)
	return nil
}

// Status returns the outcome of the last resync.
func (r *Resyncer) Status() ResyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Online reports whether the last seen connection status was connected.
func (r *Resyncer) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// WaitForNextResult returns a tea.Cmd that waits for the next result.
// Call it again after handling a ResyncResultMsg to keep listening.
func (r *Resyncer) WaitForNextResult() tea.Cmd {
	return func() tea.Msg {
		select {
		case result := <-r.resultCh:
			return result
		case <-r.stopCh:
			return nil
		}
	}
}

// Results exposes the result channel for consumers outside the TUI.
func (r *Resyncer) Results() <-chan ResyncResultMsg { return r.resultCh }

func (r *Resyncer) trigger(reason Reason) {
	select {
	case r.triggerCh <- reason:
	default:
		// a resync is already queued
	}
}

func (r *Resyncer) loop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			if !r.Online() {
				r.resync(ReasonOffline)
			}
		case reason := <-r.triggerCh:
			r.resync(reason)
		}
	}
}

func (r *Resyncer) resync(reason Reason) {
	r.setStatus(ResyncRunning, nil)

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	err := r.svc.Refresh(ctx)
	if err != nil {
		r.setStatus(ResyncError, err)
		r.log.WithError(err).WithField("reason", reason).Warn("resync failed")
		r.sendResult(ResyncResultMsg{
			Reason:      reason,
			Error:       err,
			AuthExpired: transport.IsUnauthenticated(err),
		})
		return
	}

	r.setStatus(ResyncIdle, nil)
	r.log.WithField("reason", reason).Debug("resynced")
	r.sendResult(ResyncResultMsg{Reason: reason})
}

func (r *Resyncer) setStatus(state ResyncState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status.State = state
	r.status.Error = err
	if state == ResyncIdle {
		r.status.LastSync = time.Now()
	}
}

// sendResult never blocks the loop; stale results are dropped.
func (r *Resyncer) sendResult(msg ResyncResultMsg) {
	select {
	case r.resultCh <- msg:
	default:
	}
}
