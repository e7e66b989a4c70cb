// Package notify holds the notification aggregate, the single state
// machine for the session's notifications, and the action service the UI
// drives it through.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/teamboard/internal/dispatch"
	"github.com/nhle/teamboard/internal/model"
)

// Observer events published on Aggregate.Observers().
const (
	// EventChanged carries a Change after every effective transition.
	EventChanged = "aggregate:changed"

	// EventAdded carries the model.Notification that Add inserted.
	EventAdded = "aggregate:added"

	// EventActionFailed carries an *ActionError.
	EventActionFailed = "action:failed"
)

// State is the lifecycle state of the aggregate.
type State int

const (
	StateLoading State = iota
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Change describes one applied transition together with the state it
// produced.
type Change struct {
	View

	Transition string
	State      State
	Err        error
}

// Option configures an Aggregate.
type Option func(*Aggregate)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Aggregate) { a.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregate) { a.now = now }
}

// WithScheduler replaces the timer source used for snooze expiry.
func WithScheduler(s Scheduler) Option {
	return func(a *Aggregate) { a.sched = s }
}

// Aggregate owns the notification list and its unread count. Every
// mutation goes through a transition method; each transition is applied
// atomically and keeps Unread equal to the number of unread items.
//
// Observers run outside the lock. A transition triggered from inside an
// observer is applied immediately, but its own notifications are queued
// and delivered after the current ones, so observers never nest.
type Aggregate struct {
	log    logrus.FieldLogger
	now    func() time.Time
	sched  Scheduler
	events *dispatch.Dispatcher

	mu     sync.Mutex
	state  State
	err    error
	view   View
	timers map[string]snoozeTimer
	armSeq uint64

	// rev counts adds and removals. Resync uses it to tell which local
	// changes happened after a fetch started.
	rev     uint64
	added   map[string]uint64
	removed map[string]uint64

	outMu    sync.Mutex
	outbox   []outgoing
	draining bool
}

type snoozeTimer struct {
	Timer
	seq uint64
}

type outgoing struct {
	event   string
	payload any
}

// New creates an empty aggregate in the loading state.
func New(opts ...Option) *Aggregate {
	a := &Aggregate{
		log:    logrus.StandardLogger(),
		now:    time.Now,
		sched:  realScheduler{},
		timers:  make(map[string]snoozeTimer),
		added:   make(map[string]uint64),
		removed: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.WithField("component", "notify")
	a.events = dispatch.New(a.log)
	return a
}

// Observers is the dispatcher carrying EventChanged, EventAdded and
// EventActionFailed. Use it with dispatch.NewScope to tie observers to a
// lifetime.
func (a *Aggregate) Observers() *dispatch.Dispatcher { return a.events }

// OnChange registers fn for every effective transition.
func OnChange(s dispatch.Subscriber, fn func(Change)) *dispatch.Handle {
	return dispatch.On(s, EventChanged, func(c Change) error {
		fn(c)
		return nil
	})
}

// OnAdded registers fn for every notification Add inserted.
func OnAdded(s dispatch.Subscriber, fn func(model.Notification)) *dispatch.Handle {
	return dispatch.On(s, EventAdded, func(n model.Notification) error {
		fn(n)
		return nil
	})
}

// OnActionFailed registers fn for server rejections of optimistic actions.
func OnActionFailed(s dispatch.Subscriber, fn func(*ActionError)) *dispatch.Handle {
	return dispatch.On(s, EventActionFailed, func(e *ActionError) error {
		fn(e)
		return nil
	})
}

// State returns the lifecycle state and, in StateError, the reason.
func (a *Aggregate) State() (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state, a.err
}

// View returns a copy of the current data.
func (a *Aggregate) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewLocked()
}

func (a *Aggregate) viewLocked() View {
	v := a.view
	v.Notifications = append([]model.Notification(nil), a.view.Notifications...)
	return v
}

// UnreadCount returns the number of unread notifications.
func (a *Aggregate) UnreadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view.Unread
}

// Get returns the notification with id.
func (a *Aggregate) Get(id string) (model.Notification, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i := a.indexLocked(id); i >= 0 {
		return a.view.Notifications[i], true
	}
	return model.Notification{}, false
}

// Filter returns the active filter.
func (a *Aggregate) Filter() model.Filter {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view.Filter
}

// Visible returns the filtered, unsnoozed, pinned-first list.
func (a *Aggregate) Visible() []model.Notification {
	return a.View().Visible(a.now())
}

// GroupByKind buckets the visible list by kind.
func (a *Aggregate) GroupByKind() map[model.Kind][]model.Notification {
	return a.View().GroupByKind(a.now())
}

// CreatedWithin counts notifications created within window of now.
func (a *Aggregate) CreatedWithin(window time.Duration) int {
	return a.View().CreatedWithin(a.now(), window)
}

// UnreadByKind counts unread notifications per kind.
func (a *Aggregate) UnreadByKind() map[model.Kind]int {
	return a.View().UnreadByKind()
}

// Summary returns the badge and dashboard figures.
func (a *Aggregate) Summary() model.Summary {
	return a.View().Summary(a.now())
}

// LoadInitial replaces the whole collection with a REST result and moves
// the aggregate to ready. The unread count is recomputed from the list;
// a disagreeing server figure is logged and kept as ServerUnread. Pin and
// snooze are local state and carry over for ids already held, and an id
// already read here stays read.
func (a *Aggregate) LoadInitial(list []model.Notification, serverUnread int) {
	a.mu.Lock()
	a.loadLocked(list, serverUnread, a.rev)
}

// Revision returns a marker for Resync. Take it before starting a fetch.
func (a *Aggregate) Revision() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rev
}

// Resync is LoadInitial for a fetch that started at revision since.
// Notifications added after since and missing from list are kept, and ids
// removed after since are not brought back by a stale list.
func (a *Aggregate) Resync(list []model.Notification, serverUnread int, since uint64) {
	a.mu.Lock()
	a.loadLocked(list, serverUnread, since)
}

func (a *Aggregate) loadLocked(list []model.Notification, serverUnread int, since uint64) {
	prior := make(map[string]model.Notification, len(a.view.Notifications))
	for _, n := range a.view.Notifications {
		prior[n.ID] = n
	}

	seen := make(map[string]bool, len(list))
	items := make([]model.Notification, 0, len(list))
	listed := 0
	for _, n := range list {
		if seen[n.ID] || a.removed[n.ID] > since {
			continue
		}
		seen[n.ID] = true
		if !n.Read {
			listed++
		}
		if old, ok := prior[n.ID]; ok {
			n.Pinned = old.Pinned
			if n.SnoozedUntil == nil {
				n.SnoozedUntil = old.SnoozedUntil
			}
			if old.Read {
				n.Read = true
			}
		}
		items = append(items, n)
	}

	var live []model.Notification
	for _, n := range a.view.Notifications {
		if !seen[n.ID] && a.added[n.ID] > since {
			live = append(live, n)
		}
	}
	if len(live) > 0 {
		items = append(live, items...)
	}

	for id, r := range a.added {
		if r <= since {
			delete(a.added, id)
		}
	}
	for id, r := range a.removed {
		if r <= since {
			delete(a.removed, id)
		}
	}

	for id := range a.timers {
		a.disarmLocked(id)
	}

	a.view.Notifications = items
	a.view.Unread = countUnread(items)
	a.view.ServerUnread = serverUnread
	a.state = StateReady
	a.err = nil

	now := a.now()
	for _, n := range items {
		if n.IsSnoozed(now) {
			a.armLocked(n.ID, n.SnoozedUntil.Sub(now))
		}
	}

	if listed != serverUnread {
		a.log.WithField("server", serverUnread).
			WithField("computed", listed).
			Warn("server unread count disagrees with list")
	}

	a.commitLocked("load_initial", nil)
}

// Fail records that the initial fetch failed. It only applies while
// loading; a ready aggregate keeps its data.
func (a *Aggregate) Fail(err error) {
	a.mu.Lock()
	if a.state != StateLoading {
		a.mu.Unlock()
		return
	}
	a.state = StateError
	a.err = err
	a.commitLocked("fail", nil)
}

// Add prepends n. It returns false, changing nothing, when n.ID is
// already present.
func (a *Aggregate) Add(n model.Notification) bool {
	a.mu.Lock()
	if a.indexLocked(n.ID) >= 0 {
		a.mu.Unlock()
		a.log.WithError(ErrDuplicateEvent).WithField("id", n.ID).Debug("add ignored")
		return false
	}

	a.view.Notifications = append([]model.Notification{n}, a.view.Notifications...)
	a.rev++
	a.added[n.ID] = a.rev
	delete(a.removed, n.ID)
	if !n.Read {
		a.view.Unread++
	}
	if now := a.now(); n.IsSnoozed(now) {
		a.armLocked(n.ID, n.SnoozedUntil.Sub(now))
	}
	a.commitLocked("add", []outgoing{{event: EventAdded, payload: n}})
	return true
}

// MarkRead marks id read. It reports whether anything changed.
func (a *Aggregate) MarkRead(id string) bool {
	a.mu.Lock()
	i := a.indexLocked(id)
	if i < 0 || a.view.Notifications[i].Read {
		a.mu.Unlock()
		return false
	}
	a.view.Notifications[i].Read = true
	a.view.Unread--
	a.commitLocked("mark_read", nil)
	return true
}

// MarkAllRead marks every notification read and returns how many changed.
func (a *Aggregate) MarkAllRead() int {
	a.mu.Lock()
	changed := 0
	for i := range a.view.Notifications {
		if !a.view.Notifications[i].Read {
			a.view.Notifications[i].Read = true
			changed++
		}
	}
	if changed == 0 {
		a.mu.Unlock()
		return 0
	}
	a.view.Unread = 0
	a.commitLocked("mark_all_read", nil)
	return changed
}

// Remove deletes id. It reports whether it was present.
func (a *Aggregate) Remove(id string) bool {
	a.mu.Lock()
	a.tombstoneLocked(id)
	i := a.indexLocked(id)
	if i < 0 {
		a.mu.Unlock()
		return false
	}
	if !a.view.Notifications[i].Read {
		a.view.Unread--
	}
	a.view.Notifications = append(a.view.Notifications[:i:i], a.view.Notifications[i+1:]...)
	a.disarmLocked(id)
	a.commitLocked("remove", nil)
	return true
}

// BulkMarkRead marks the given ids read in one step and returns how many
// changed.
func (a *Aggregate) BulkMarkRead(ids []string) int {
	set := idSet(ids)

	a.mu.Lock()
	changed := 0
	for i := range a.view.Notifications {
		n := &a.view.Notifications[i]
		if set[n.ID] && !n.Read {
			n.Read = true
			changed++
		}
	}
	if changed == 0 {
		a.mu.Unlock()
		return 0
	}
	a.view.Unread = countUnread(a.view.Notifications)
	a.commitLocked("bulk_mark_read", nil)
	return changed
}

// BulkDelete removes the given ids in one step and returns how many were
// present.
func (a *Aggregate) BulkDelete(ids []string) int {
	set := idSet(ids)

	a.mu.Lock()
	for _, id := range ids {
		a.tombstoneLocked(id)
	}
	kept := make([]model.Notification, 0, len(a.view.Notifications))
	removed := 0
	for _, n := range a.view.Notifications {
		if set[n.ID] {
			removed++
			a.disarmLocked(n.ID)
			continue
		}
		kept = append(kept, n)
	}
	if removed == 0 {
		a.mu.Unlock()
		return 0
	}
	a.view.Notifications = kept
	a.view.Unread = countUnread(kept)
	a.commitLocked("bulk_delete", nil)
	return removed
}

// Snooze hides id until now+d. Read state and the unread count are not
// touched. A timer owned by the aggregate clears the snooze when it
// elapses.
func (a *Aggregate) Snooze(id string, d time.Duration) bool {
	if d <= 0 {
		return false
	}
	a.mu.Lock()
	i := a.indexLocked(id)
	if i < 0 {
		a.mu.Unlock()
		return false
	}
	until := a.now().Add(d)
	a.view.Notifications[i].SnoozedUntil = &until
	a.armLocked(id, d)
	a.commitLocked("snooze", nil)
	return true
}

// Unsnooze makes id visible again before its snooze elapses.
func (a *Aggregate) Unsnooze(id string) bool {
	a.mu.Lock()
	i := a.indexLocked(id)
	if i < 0 || a.view.Notifications[i].SnoozedUntil == nil {
		a.mu.Unlock()
		return false
	}
	a.view.Notifications[i].SnoozedUntil = nil
	a.disarmLocked(id)
	a.commitLocked("unsnooze", nil)
	return true
}

// Pin marks id pinned.
func (a *Aggregate) Pin(id string) bool { return a.setPinned(id, true) }

// Unpin clears the pin on id.
func (a *Aggregate) Unpin(id string) bool { return a.setPinned(id, false) }

func (a *Aggregate) setPinned(id string, pinned bool) bool {
	a.mu.Lock()
	i := a.indexLocked(id)
	if i < 0 || a.view.Notifications[i].Pinned == pinned {
		a.mu.Unlock()
		return false
	}
	a.view.Notifications[i].Pinned = pinned
	name := "unpin"
	if pinned {
		name = "pin"
	}
	a.commitLocked(name, nil)
	return true
}

// SetFilter replaces the active filter. Stored items are not touched.
func (a *Aggregate) SetFilter(f model.Filter) {
	a.mu.Lock()
	if a.view.Filter == f {
		a.mu.Unlock()
		return
	}
	a.view.Filter = f
	a.commitLocked("set_filter", nil)
}

// Clear drops everything and returns to loading, as on logout. Pending
// snooze timers become no-ops.
func (a *Aggregate) Clear() {
	a.mu.Lock()
	for id := range a.timers {
		a.disarmLocked(id)
	}
	clear(a.added)
	clear(a.removed)
	a.view = View{}
	a.state = StateLoading
	a.err = nil
	a.commitLocked("clear", nil)
}

// ReportFailure publishes err to EventActionFailed observers.
func (a *Aggregate) ReportFailure(err *ActionError) {
	a.enqueue([]outgoing{{event: EventActionFailed, payload: err}})
	a.drain()
}

// armLocked (re)starts the snooze timer of id. Each arm gets its own
// sequence number so a superseded timer that already fired does nothing.
func (a *Aggregate) armLocked(id string, d time.Duration) {
	a.disarmLocked(id)
	a.armSeq++
	seq := a.armSeq
	a.timers[id] = snoozeTimer{
		Timer: a.sched.AfterFunc(d, func() { a.expireSnooze(id, seq) }),
		seq:   seq,
	}
}

func (a *Aggregate) disarmLocked(id string) {
	if t, ok := a.timers[id]; ok {
		t.Stop()
		delete(a.timers, id)
	}
}

func (a *Aggregate) tombstoneLocked(id string) {
	a.rev++
	a.removed[id] = a.rev
	delete(a.added, id)
}

func (a *Aggregate) expireSnooze(id string, seq uint64) {
	a.mu.Lock()
	if t, ok := a.timers[id]; !ok || t.seq != seq {
		a.mu.Unlock()
		return
	}
	delete(a.timers, id)
	i := a.indexLocked(id)
	if i < 0 || a.view.Notifications[i].SnoozedUntil == nil {
		a.mu.Unlock()
		return
	}
	if a.view.Notifications[i].IsSnoozed(a.now()) {
		// Fired early; re-arm for what is left.
		a.armLocked(id, a.view.Notifications[i].SnoozedUntil.Sub(a.now()))
		a.mu.Unlock()
		return
	}
	a.view.Notifications[i].SnoozedUntil = nil
	a.commitLocked("snooze_expired", nil)
}

// commitLocked queues the change notification plus extra, releases a.mu
// and delivers everything queued.
func (a *Aggregate) commitLocked(transition string, extra []outgoing) {
	change := Change{
		View:       a.viewLocked(),
		Transition: transition,
		State:      a.state,
		Err:        a.err,
	}
	out := append([]outgoing{{event: EventChanged, payload: change}}, extra...)
	// Enqueue before unlocking so delivery order matches transition order.
	a.enqueue(out)
	a.mu.Unlock()
	a.drain()
}

func (a *Aggregate) enqueue(out []outgoing) {
	a.outMu.Lock()
	a.outbox = append(a.outbox, out...)
	a.outMu.Unlock()
}

// drain delivers queued notifications unless another call is already
// delivering, in which case that call picks them up.
func (a *Aggregate) drain() {
	a.outMu.Lock()
	if a.draining {
		a.outMu.Unlock()
		return
	}
	a.draining = true
	for len(a.outbox) > 0 {
		next := a.outbox[0]
		a.outbox = a.outbox[1:]
		a.outMu.Unlock()

		a.events.Publish(next.event, next.payload)

		a.outMu.Lock()
	}
	a.draining = false
	a.outMu.Unlock()
}

func (a *Aggregate) indexLocked(id string) int {
	for i, n := range a.view.Notifications {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func idSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
