package notify

import (
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/teamboard/internal/dispatch"
	"github.com/nhle/teamboard/internal/model"
)

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// manualClock is both the clock and the scheduler of an aggregate under
// test. Timers only fire from Advance.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestAggregate() (*Aggregate, *manualClock) {
	clock := newManualClock()
	a := New(WithLogger(quietLogger()), WithClock(clock.Now), WithScheduler(clock))
	return a, clock
}

func notif(id string, read bool) model.Notification {
	return model.Notification{ID: id, Kind: model.KindMessage, Title: "t-" + id, Read: read}
}

func assertInvariant(t *testing.T, a *Aggregate) {
	t.Helper()
	v := a.View()
	assert.Equal(t, countUnread(v.Notifications), v.Unread)
	assert.GreaterOrEqual(t, v.Unread, 0)
}

func TestUnreadCountInvariantUnderRandomOperations(t *testing.T) {
	seed := time.Now().UnixNano()
	rng := rand.New(rand.NewSource(seed))
	t.Logf("seed %d", seed)

	a, _ := newTestAggregate()

	// Every observer must see a consistent count too.
	OnChange(a.Observers(), func(c Change) {
		if c.Unread != countUnread(c.Notifications) {
			t.Errorf("observer saw unread %d for %d unread items after %s",
				c.Unread, countUnread(c.Notifications), c.Transition)
		}
	})

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("n%d", i)
	}
	pick := func() string { return ids[rng.Intn(len(ids))] }
	pickMany := func() []string {
		out := make([]string, rng.Intn(5))
		for i := range out {
			out[i] = pick()
		}
		return out
	}

	for step := 0; step < 2000; step++ {
		switch rng.Intn(7) {
		case 0, 1:
			a.Add(notif(pick(), rng.Intn(3) == 0))
		case 2:
			a.MarkRead(pick())
		case 3:
			a.Remove(pick())
		case 4:
			a.BulkMarkRead(pickMany())
		case 5:
			a.BulkDelete(pickMany())
		case 6:
			if rng.Intn(10) == 0 {
				a.MarkAllRead()
			}
		}
		assertInvariant(t, a)
	}
}

func TestAddIsIdempotent(t *testing.T) {
	a, _ := newTestAggregate()
	added := 0
	OnAdded(a.Observers(), func(model.Notification) { added++ })

	require.True(t, a.Add(notif("n1", false)))
	before := a.View()

	assert.False(t, a.Add(notif("n1", false)))
	assert.Equal(t, before, a.View())
	assert.Equal(t, 1, a.UnreadCount())
	assert.Equal(t, 1, added)
}

func TestMarkReadOnReadItemIsNoop(t *testing.T) {
	a, _ := newTestAggregate()
	a.Add(notif("n1", true))
	a.Add(notif("n2", false))

	changes := 0
	OnChange(a.Observers(), func(Change) { changes++ })

	assert.False(t, a.MarkRead("n1"))
	assert.False(t, a.MarkRead("missing"))
	assert.Equal(t, 1, a.UnreadCount())
	assert.Equal(t, 0, changes)

	assert.True(t, a.MarkRead("n2"))
	assert.False(t, a.MarkRead("n2"))
	assert.Equal(t, 0, a.UnreadCount())
	assert.Equal(t, 1, changes)
}

func TestBulkMarkReadCountsOnlyUnread(t *testing.T) {
	a, _ := newTestAggregate()
	a.LoadInitial([]model.Notification{notif("a", true), notif("b", false), notif("c", false), notif("d", false)}, 3)

	var seen []Change
	OnChange(a.Observers(), func(c Change) { seen = append(seen, c) })

	assert.Equal(t, 2, a.BulkMarkRead([]string{"a", "b", "c"}))
	assert.Equal(t, 1, a.UnreadCount())
	require.Len(t, seen, 1, "a batch is one transition")
	assert.Equal(t, 1, seen[0].Unread)
}

func TestBulkDeleteAdjustsCountOnce(t *testing.T) {
	a, _ := newTestAggregate()
	a.LoadInitial([]model.Notification{notif("a", true), notif("b", false), notif("c", false)}, 2)

	var seen []Change
	OnChange(a.Observers(), func(c Change) { seen = append(seen, c) })

	assert.Equal(t, 2, a.BulkDelete([]string{"a", "b", "zzz"}))
	assert.Equal(t, 1, a.UnreadCount())
	assert.Len(t, a.View().Notifications, 1)
	assert.Len(t, seen, 1)
	assert.Zero(t, a.BulkDelete([]string{"zzz"}))
}

func TestMarkAllReadScenario(t *testing.T) {
	a, _ := newTestAggregate()
	a.LoadInitial([]model.Notification{
		notif("1", false), notif("2", true), notif("3", false), notif("4", true), notif("5", false),
	}, 3)
	state, _ := a.State()
	require.Equal(t, StateReady, state)
	require.Equal(t, 3, a.UnreadCount())

	assert.Equal(t, 3, a.MarkAllRead())

	v := a.View()
	require.Len(t, v.Notifications, 5)
	for _, n := range v.Notifications {
		assert.True(t, n.Read, n.ID)
	}
	assert.Equal(t, 0, v.Unread)
}

func TestRemoveDecrementsOnlyForUnread(t *testing.T) {
	a, _ := newTestAggregate()
	a.Add(notif("r", true))
	a.Add(notif("u", false))

	assert.True(t, a.Remove("r"))
	assert.Equal(t, 1, a.UnreadCount())
	assert.True(t, a.Remove("u"))
	assert.Equal(t, 0, a.UnreadCount())
	assert.False(t, a.Remove("u"))
}

func TestSnoozeScenario(t *testing.T) {
	a, clock := newTestAggregate()
	a.Add(notif("n1", false))

	require.True(t, a.Snooze("n1", time.Second))

	assert.Empty(t, a.Visible())
	assert.Len(t, a.View().Notifications, 1)
	assert.Equal(t, 1, a.UnreadCount())
	n, _ := a.Get("n1")
	assert.False(t, n.Read)
	assert.Equal(t, 1, a.Summary().Snoozed)

	clock.Advance(999 * time.Millisecond)
	assert.Empty(t, a.Visible())

	clock.Advance(time.Millisecond)
	visible := a.Visible()
	require.Len(t, visible, 1)
	assert.Equal(t, "n1", visible[0].ID)
	assert.Nil(t, visible[0].SnoozedUntil)
}

func TestResnoozeReplacesTimer(t *testing.T) {
	a, clock := newTestAggregate()
	a.Add(notif("n1", false))

	a.Snooze("n1", time.Second)
	a.Snooze("n1", 5*time.Second)

	clock.Advance(2 * time.Second)
	assert.Empty(t, a.Visible())

	clock.Advance(3 * time.Second)
	assert.Len(t, a.Visible(), 1)
}

func TestSnoozeTimerIsNoopAfterClear(t *testing.T) {
	a, clock := newTestAggregate()
	a.Add(notif("n1", false))
	a.Snooze("n1", time.Second)

	a.Clear()
	a.Add(notif("n1", false))

	changes := 0
	OnChange(a.Observers(), func(Change) { changes++ })

	assert.NotPanics(t, func() { clock.Advance(time.Minute) })
	assert.Equal(t, 0, changes)
	state, _ := a.State()
	assert.Equal(t, StateLoading, state)
}

func TestSnoozeRejectsUnknownAndNonPositive(t *testing.T) {
	a, _ := newTestAggregate()
	a.Add(notif("n1", false))

	assert.False(t, a.Snooze("missing", time.Second))
	assert.False(t, a.Snooze("n1", 0))
	assert.True(t, a.Snooze("n1", time.Second))
	assert.True(t, a.Unsnooze("n1"))
	assert.False(t, a.Unsnooze("n1"))
	assert.Len(t, a.Visible(), 1)
}

func TestVisibleFiltersAndPinsFirst(t *testing.T) {
	a, _ := newTestAggregate()
	a.Add(model.Notification{ID: "old", Kind: model.KindMention})
	a.Add(model.Notification{ID: "mid", Kind: model.KindSystem, Read: true})
	a.Add(model.Notification{ID: "new", Kind: model.KindMention})

	require.True(t, a.Pin("old"))
	assert.False(t, a.Pin("old"))

	ids := func(ns []model.Notification) []string {
		out := make([]string, len(ns))
		for i, n := range ns {
			out[i] = n.ID
		}
		return out
	}

	assert.Equal(t, []string{"old", "new", "mid"}, ids(a.Visible()))

	a.SetFilter(model.Filter{UnreadOnly: true})
	assert.Equal(t, []string{"old", "new"}, ids(a.Visible()))

	a.SetFilter(model.Filter{Kind: model.KindSystem})
	assert.Equal(t, []string{"mid"}, ids(a.Visible()))
	assert.Len(t, a.View().Notifications, 3, "filters never drop stored items")

	a.SetFilter(model.Filter{})
	require.True(t, a.Unpin("old"))
	assert.Equal(t, []string{"new", "mid", "old"}, ids(a.Visible()))
}

func TestDerivedViews(t *testing.T) {
	a, clock := newTestAggregate()
	now := clock.Now()
	a.LoadInitial([]model.Notification{
		{ID: "1", Kind: model.KindMention, CreatedAt: now.Add(-time.Hour)},
		{ID: "2", Kind: model.KindMention, CreatedAt: now.Add(-48 * time.Hour), Read: true},
		{ID: "3", Kind: model.KindTaskAssigned, CreatedAt: now.Add(-2 * time.Hour)},
	}, 5)

	assert.Equal(t, 2, a.CreatedWithin(24*time.Hour))
	assert.Equal(t, map[model.Kind]int{model.KindMention: 1, model.KindTaskAssigned: 1}, a.UnreadByKind())

	groups := a.GroupByKind()
	assert.Len(t, groups[model.KindMention], 2)
	assert.Len(t, groups[model.KindTaskAssigned], 1)

	s := a.Summary()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Unread)
	assert.Equal(t, 5, s.ServerUnread)
	assert.Equal(t, 2, s.Today)
}

func TestLoadInitialRecomputesCountAndDropsDuplicates(t *testing.T) {
	a, _ := newTestAggregate()

	a.LoadInitial([]model.Notification{notif("a", false), notif("a", false), notif("b", true)}, 7)

	v := a.View()
	assert.Len(t, v.Notifications, 2)
	assert.Equal(t, 1, v.Unread)
	assert.Equal(t, 7, v.ServerUnread)
}

func TestLoadInitialKeepsLocalPinAndSnooze(t *testing.T) {
	a, clock := newTestAggregate()
	a.LoadInitial([]model.Notification{notif("a", false), notif("b", false)}, 2)
	a.Pin("a")
	a.Snooze("b", time.Minute)

	a.LoadInitial([]model.Notification{notif("a", false), notif("b", false), notif("c", false)}, 3)

	visible := a.Visible()
	require.Len(t, visible, 2)
	assert.Equal(t, "a", visible[0].ID)
	assert.True(t, visible[0].Pinned)

	clock.Advance(time.Minute)
	assert.Len(t, a.Visible(), 3)
}

func TestLoadInitialNeverUnreadsLocalRead(t *testing.T) {
	a, _ := newTestAggregate()
	a.LoadInitial([]model.Notification{notif("a", false), notif("b", false)}, 2)
	a.MarkRead("a")

	// The server has not seen the mark yet.
	a.LoadInitial([]model.Notification{notif("a", false), notif("b", false)}, 2)

	n, ok := a.Get("a")
	require.True(t, ok)
	assert.True(t, n.Read)
	assert.Equal(t, 1, a.UnreadCount())
	assertInvariant(t, a)
}

func TestResyncKeepsChangesMadeDuringFetch(t *testing.T) {
	a, _ := newTestAggregate()
	a.LoadInitial([]model.Notification{notif("a", false), notif("b", false), notif("c", false)}, 3)

	since := a.Revision()
	a.Add(notif("live", false))
	a.Remove("c")
	a.Remove("gone")

	a.Resync([]model.Notification{notif("a", false), notif("b", false), notif("c", false), notif("gone", false)}, 4, since)

	v := a.View()
	ids := make([]string, 0, len(v.Notifications))
	for _, n := range v.Notifications {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"live", "a", "b"}, ids)
	assert.Equal(t, 3, v.Unread)
	assert.Equal(t, 4, v.ServerUnread)
	assertInvariant(t, a)

	// A later full load drops what the server no longer lists.
	a.Resync([]model.Notification{notif("a", false)}, 1, a.Revision())
	assert.Len(t, a.View().Notifications, 1)
}

// leakyScheduler hands out timers whose Stop never wins the race, so
// every callback can still run.
type leakyScheduler struct {
	mu    sync.Mutex
	funcs []func()
}

type lostTimer struct{}

func (lostTimer) Stop() bool { return false }

func (s *leakyScheduler) AfterFunc(_ time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funcs = append(s.funcs, f)
	return lostTimer{}
}

func TestSupersededSnoozeTimerKeepsNewerSnooze(t *testing.T) {
	clock := newManualClock()
	sched := &leakyScheduler{}
	a := New(WithLogger(quietLogger()), WithClock(clock.Now), WithScheduler(sched))
	a.Add(notif("n1", false))

	a.Snooze("n1", time.Second)
	a.Snooze("n1", time.Hour)
	require.Len(t, sched.funcs, 2)

	clock.Advance(time.Second)
	sched.funcs[0]()

	n, ok := a.Get("n1")
	require.True(t, ok)
	require.NotNil(t, n.SnoozedUntil)
	assert.True(t, n.IsSnoozed(clock.Now()))
	assert.Empty(t, a.Visible())

	clock.Advance(time.Hour)
	sched.funcs[1]()
	assert.Len(t, a.Visible(), 1)
}

func TestFailOnlyWhileLoading(t *testing.T) {
	a, _ := newTestAggregate()
	boom := fmt.Errorf("boom")

	a.Fail(boom)
	state, err := a.State()
	assert.Equal(t, StateError, state)
	assert.Equal(t, boom, err)

	a.LoadInitial(nil, 0)
	a.Fail(boom)
	state, err = a.State()
	assert.Equal(t, StateReady, state)
	assert.NoError(t, err)
}

func TestReentrantTransitionFromObserver(t *testing.T) {
	a, _ := newTestAggregate()

	// Auto-read every system notification as soon as it arrives.
	OnAdded(a.Observers(), func(n model.Notification) {
		if n.Kind == model.KindSystem {
			a.MarkRead(n.ID)
		}
	})

	var order []string
	OnChange(a.Observers(), func(c Change) {
		order = append(order, c.Transition)
		assert.Equal(t, countUnread(c.Notifications), c.Unread)
	})

	a.Add(model.Notification{ID: "s1", Kind: model.KindSystem})

	assert.Equal(t, []string{"add", "mark_read"}, order)
	assert.Equal(t, 0, a.UnreadCount())
}

func TestObserverPanicDoesNotBreakAggregate(t *testing.T) {
	a, _ := newTestAggregate()
	OnAdded(a.Observers(), func(model.Notification) { panic("broken toast") })

	got := 0
	OnAdded(a.Observers(), func(model.Notification) { got++ })

	assert.NotPanics(t, func() { a.Add(notif("n1", false)) })
	assert.Equal(t, 1, got)
	assert.Equal(t, 1, a.UnreadCount())
}

func TestScopedObserversStopAfterRelease(t *testing.T) {
	a, _ := newTestAggregate()
	scope := dispatch.NewScope(nil, a.Observers())

	calls := 0
	OnChange(scope, func(Change) { calls++ })
	a.Add(notif("n1", false))
	scope.Release()
	a.Add(notif("n2", false))

	assert.Equal(t, 1, calls)
}

func TestConcurrentTransitionsKeepInvariant(t *testing.T) {
	a := New(WithLogger(quietLogger()))
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("n%d", (g*7+i)%30)
				switch i % 4 {
				case 0:
					a.Add(notif(id, false))
				case 1:
					a.MarkRead(id)
				case 2:
					a.BulkMarkRead([]string{id, "n1"})
				case 3:
					a.Remove(id)
				}
			}
		}(g)
	}
	wg.Wait()
	assertInvariant(t, a)
}
