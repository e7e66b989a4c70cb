package delivery

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/teamboard/internal/model"
	"github.com/nhle/teamboard/internal/notify"
)

type staticPrefs struct {
	p   model.Preferences
	err error
}

func (s staticPrefs) LoadPreferences(context.Context) (model.Preferences, error) {
	return s.p, s.err
}

func (s staticPrefs) SavePreferences(context.Context, model.Preferences) error { return nil }

type calls struct {
	beeps    int
	desktops []string
	asks     int
}

func newTestNotifier(prefs notify.PreferenceStore, c *calls, beepErr error, granted bool) *Notifier {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(prefs, log,
		WithBeep(func() error { c.beeps++; return beepErr }),
		WithDesktop(func(title, _ string) error { c.desktops = append(c.desktops, title); return nil }),
		WithPermission(func() bool { c.asks++; return granted }),
	)
}

func item(id string, read bool) model.Notification {
	return model.Notification{ID: id, Kind: model.KindMention, Title: "t-" + id, Message: "m", Read: read, CreatedAt: time.Now()}
}

func TestDeliverFiresEveryEnabledChannel(t *testing.T) {
	c := &calls{}
	n := newTestNotifier(nil, c, nil, true)

	n.Deliver(item("a", false))

	assert.Equal(t, 1, c.beeps)
	assert.Equal(t, []string{"t-a"}, c.desktops)
	select {
	case toast := <-n.Toasts():
		assert.Equal(t, "a", toast.ID)
		assert.Equal(t, "t-a", toast.Title)
	default:
		t.Fatal("expected a toast")
	}
}

func TestDeliverSkipsReadItems(t *testing.T) {
	c := &calls{}
	n := newTestNotifier(nil, c, nil, true)

	n.Deliver(item("a", true))

	assert.Zero(t, c.beeps)
	assert.Empty(t, c.desktops)
	assert.Empty(t, n.Toasts())
}

func TestPreferencesToggleChannels(t *testing.T) {
	c := &calls{}
	n := newTestNotifier(staticPrefs{p: model.Preferences{Toast: true}}, c, nil, true)

	n.Deliver(item("a", false))

	assert.Zero(t, c.beeps)
	assert.Empty(t, c.desktops)
	assert.Len(t, n.Toasts(), 1)
}

func TestPreferenceLoadFailureFallsBackToDefaults(t *testing.T) {
	c := &calls{}
	n := newTestNotifier(staticPrefs{err: errors.New("db closed")}, c, nil, true)

	n.Deliver(item("a", false))

	assert.Equal(t, 1, c.beeps)
}

func TestFailingChannelDoesNotStopOthers(t *testing.T) {
	c := &calls{}
	n := newTestNotifier(nil, c, errors.New("no audio device"), true)

	n.Deliver(item("a", false))

	assert.Equal(t, []string{"t-a"}, c.desktops)
	assert.Len(t, n.Toasts(), 1)
}

func TestPanickingChannelDoesNotStopOthers(t *testing.T) {
	var desktops []string
	log := logrus.New()
	log.SetOutput(io.Discard)
	n := New(nil, log,
		WithBeep(func() error { panic("audio driver crashed") }),
		WithDesktop(func(title, _ string) error { desktops = append(desktops, title); return nil }),
		WithPermission(func() bool { return true }),
	)

	require.NotPanics(t, func() { n.Deliver(item("a", false)) })

	assert.Equal(t, []string{"t-a"}, desktops)
	assert.Len(t, n.Toasts(), 1)

	n2 := New(nil, log,
		WithBeep(func() error { return nil }),
		WithDesktop(func(string, string) error { panic("dbus gone") }),
		WithPermission(func() bool { return true }),
	)
	require.NotPanics(t, func() { n2.Deliver(item("b", false)) })
	assert.Len(t, n2.Toasts(), 1)
}

func TestPermissionRequestedOnce(t *testing.T) {
	c := &calls{}
	n := newTestNotifier(nil, c, nil, false)

	n.Deliver(item("a", false))
	n.Deliver(item("b", false))

	assert.Equal(t, 1, c.asks)
	assert.Empty(t, c.desktops)
	assert.Equal(t, 2, c.beeps)
}

func TestToastQueueDropsWhenFull(t *testing.T) {
	c := &calls{}
	n := newTestNotifier(staticPrefs{p: model.Preferences{Toast: true}}, c, nil, true)

	for i := 0; i < ToastBuffer+5; i++ {
		n.Deliver(item("x", false))
	}

	assert.Len(t, n.Toasts(), ToastBuffer)
}

func TestBindFiresOnlyForAddedUnread(t *testing.T) {
	c := &calls{}
	n := newTestNotifier(staticPrefs{p: model.Preferences{Sound: true}}, c, nil, true)
	agg := notify.New()
	n.Bind(agg.Observers())

	agg.LoadInitial([]model.Notification{item("old", false)}, 1)
	require.Zero(t, c.beeps, "loading history must not fire side effects")

	agg.Add(item("a", false))
	agg.Add(item("a", false))
	agg.Add(item("b", true))
	agg.MarkRead("a")

	assert.Equal(t, 1, c.beeps)
}
