// Package delivery fires the user-facing side effects of a new
// notification: a sound, a desktop notification and an in-app toast.
package delivery

import (
	"context"
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/sirupsen/logrus"

	"github.com/nhle/teamboard/internal/dispatch"
	"github.com/nhle/teamboard/internal/model"
	"github.com/nhle/teamboard/internal/notify"
)

// ToastBuffer is how many toasts can queue before new ones are dropped.
const ToastBuffer = 16

// Toast is an in-app popup for one notification.
type Toast struct {
	ID    string
	Kind  model.Kind
	Title string
	Body  string
}

// Notifier reacts to notifications added to the aggregate. It never
// touches the aggregate and never fires for items that arrive read.
type Notifier struct {
	prefs notify.PreferenceStore
	log   logrus.FieldLogger

	beep       func() error
	desktop    func(title, body string) error
	permission func() bool

	permOnce sync.Once
	allowed  bool

	toasts chan Toast
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithBeep replaces the sound channel.
func WithBeep(fn func() error) Option {
	return func(n *Notifier) { n.beep = fn }
}

// WithDesktop replaces the desktop notification channel.
func WithDesktop(fn func(title, body string) error) Option {
	return func(n *Notifier) { n.desktop = fn }
}

// WithPermission replaces the desktop permission request. It runs at most
// once per Notifier; a false result disables desktop notifications.
func WithPermission(fn func() bool) Option {
	return func(n *Notifier) { n.permission = fn }
}

// New creates a notifier reading channel toggles from prefs. A nil store
// enables every channel.
func New(prefs notify.PreferenceStore, log logrus.FieldLogger, opts ...Option) *Notifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	n := &Notifier{
		prefs: prefs,
		log:   log.WithField("component", "delivery"),
		beep: func() error {
			return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
		},
		desktop: func(title, body string) error {
			return beeep.Notify(title, body, "")
		},
		permission: func() bool { return true },
		toasts:     make(chan Toast, ToastBuffer),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Bind subscribes to the aggregate's added signal.
func (n *Notifier) Bind(sub dispatch.Subscriber) *dispatch.Handle {
	return notify.OnAdded(sub, n.Deliver)
}

// Toasts is consumed by the TUI.
func (n *Notifier) Toasts() <-chan Toast { return n.toasts }

// Deliver runs every enabled channel for item. A failing or panicking
// channel is logged and does not stop the others.
func (n *Notifier) Deliver(item model.Notification) {
	if item.Read {
		return
	}
	prefs := n.preferences()
	log := n.log.WithField("id", item.ID)

	if prefs.Sound {
		safely(log, "sound", n.beep)
	}
	if prefs.Desktop {
		safely(log, "desktop notification", func() error {
			if !n.desktopAllowed() {
				return nil
			}
			return n.desktop(title(item), item.Message)
		})
	}
	if prefs.Toast {
		select {
		case n.toasts <- Toast{ID: item.ID, Kind: item.Kind, Title: title(item), Body: item.Message}:
		default:
			log.Debug("toast queue full, dropping")
		}
	}
}

func safely(log logrus.FieldLogger, channel string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Errorf("%s panicked", channel)
		}
	}()
	if err := fn(); err != nil {
		log.WithError(err).Warnf("%s failed", channel)
	}
}

func (n *Notifier) preferences() model.Preferences {
	if n.prefs == nil {
		return model.DefaultPreferences()
	}
	p, err := n.prefs.LoadPreferences(context.Background())
	if err != nil {
		n.log.WithError(err).Warn("loading preferences, using defaults")
		return model.DefaultPreferences()
	}
	return p
}

func (n *Notifier) desktopAllowed() bool {
	n.permOnce.Do(func() {
		n.allowed = n.permission()
		if !n.allowed {
			n.log.Info("desktop notifications not permitted")
		}
	})
	return n.allowed
}

func title(item model.Notification) string {
	if item.Title != "" {
		return item.Title
	}
	if item.Sender != nil && item.Sender.Name != "" {
		return item.Sender.Name
	}
	return "teamboard"
}
