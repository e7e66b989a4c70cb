package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/teamboard/internal/api"
	"github.com/nhle/teamboard/internal/dispatch"
	"github.com/nhle/teamboard/internal/model"
)

// Backend is the REST collaborator. *api.Client implements it.
type Backend interface {
	ListNotifications(ctx context.Context, opts api.ListOptions) (*api.ListResult, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
	BatchMarkRead(ctx context.Context, ids []string) error
	BatchDelete(ctx context.Context, ids []string) error
	Preferences(ctx context.Context) (model.Preferences, error)
	UpdatePreferences(ctx context.Context, p model.Preferences) error
	Stats(ctx context.Context) (model.Stats, error)
}

// Socket is the outbound side of the real-time connection.
// *transport.Connection implements it.
type Socket interface {
	Emit(event string, payload any) error
	IsConnected() bool
}

// PreferenceStore persists the local copy of the delivery preferences.
// *store.SQLiteStore implements it.
type PreferenceStore interface {
	LoadPreferences(ctx context.Context) (model.Preferences, error)
	SavePreferences(ctx context.Context, p model.Preferences) error
}

// LocalMarks persists pin and snooze, which the server does not know
// about, so they survive a restart. *store.SQLiteStore implements it.
type LocalMarks interface {
	LoadMarks(ctx context.Context) (map[string]model.LocalMark, error)
	SaveMark(ctx context.Context, m model.LocalMark) error
	ClearMarks(ctx context.Context) error
}

// DefaultPageSize is how many notifications Refresh fetches.
const DefaultPageSize = 100

// Service is the action layer the UI calls. Every mutating action is
// applied to the aggregate first and sent to the server second. A server
// failure comes back as an *ActionError and is published on
// EventActionFailed; the local change stays.
type Service struct {
	agg     *Aggregate
	backend Backend
	socket  Socket
	prefs   PreferenceStore
	log     logrus.FieldLogger

	PageSize int

	// Marks is optional. When nil, pins and snoozes last for the session.
	Marks LocalMarks
}

// NewService wires the action layer.
func NewService(agg *Aggregate, backend Backend, socket Socket, prefs PreferenceStore, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		agg:      agg,
		backend:  backend,
		socket:   socket,
		prefs:    prefs,
		log:      log.WithField("component", "notify.service"),
		PageSize: DefaultPageSize,
	}
}

// Aggregate returns the state machine the service drives.
func (s *Service) Aggregate() *Aggregate { return s.agg }

// Bind subscribes the aggregate to the inbound notification events.
// Releasing sub stops them.
func (s *Service) Bind(sub dispatch.Subscriber) {
	dispatch.On(sub, model.EventNotificationNew, func(n model.Notification) error {
		if n.ID == "" {
			return fmt.Errorf("notification without id")
		}
		n.Kind = n.Kind.Normalize()
		s.agg.Add(n)
		return nil
	})
	dispatch.On(sub, model.EventNotificationMarkedRead, func(ref model.NotificationRef) error {
		s.agg.MarkRead(ref.ID)
		return nil
	})
	sub.Subscribe(model.EventNotificationAllRead, func(any) error {
		s.agg.MarkAllRead()
		return nil
	})
	dispatch.On(sub, model.EventNotificationDeleted, func(ref model.NotificationRef) error {
		s.agg.Remove(ref.ID)
		return nil
	})
}

// Refresh replaces the aggregate's contents with a fresh REST fetch. If
// the aggregate is still loading, a failure moves it to the error state.
// Live events and local actions that land while the fetch is in flight
// survive the replacement.
func (s *Service) Refresh(ctx context.Context) error {
	since := s.agg.Revision()
	res, err := s.backend.ListNotifications(ctx, api.ListOptions{Page: 1, Limit: s.PageSize})
	if err != nil {
		s.agg.Fail(err)
		return fmt.Errorf("fetching notifications: %w", err)
	}
	marks := s.loadMarks(ctx)
	for i := range res.Notifications {
		n := &res.Notifications[i]
		n.Kind = n.Kind.Normalize()
		if m, ok := marks[n.ID]; ok {
			m.Apply(n)
		}
	}
	s.agg.Resync(res.Notifications, res.UnreadCount, since)
	return nil
}

// MarkAsRead marks one notification read locally, then on the server, and
// finally tells other sessions over the socket.
func (s *Service) MarkAsRead(ctx context.Context, id string) error {
	s.agg.MarkRead(id)
	if err := s.backend.MarkRead(ctx, id); err != nil {
		return s.fail("mark_read", []string{id}, err)
	}
	if s.socket != nil && s.socket.IsConnected() {
		if err := s.socket.Emit(model.EventNotificationMarkRead, model.NotificationRef{ID: id}); err != nil {
			s.log.WithError(err).WithField("id", id).Warn("emitting mark_read")
		}
	}
	return nil
}

// MarkAllAsRead marks everything read.
func (s *Service) MarkAllAsRead(ctx context.Context) error {
	s.agg.MarkAllRead()
	if err := s.backend.MarkAllRead(ctx); err != nil {
		return s.fail("mark_all_read", nil, err)
	}
	return nil
}

// DeleteNotification removes one notification.
func (s *Service) DeleteNotification(ctx context.Context, id string) error {
	s.agg.Remove(id)
	if err := s.backend.DeleteNotification(ctx, id); err != nil {
		return s.fail("delete", []string{id}, err)
	}
	return nil
}

// BulkMarkAsRead marks several notifications read in one step.
func (s *Service) BulkMarkAsRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.agg.BulkMarkRead(ids)
	if err := s.backend.BatchMarkRead(ctx, ids); err != nil {
		return s.fail("bulk_mark_read", ids, err)
	}
	return nil
}

// BulkDelete removes several notifications in one step.
func (s *Service) BulkDelete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.agg.BulkDelete(ids)
	if err := s.backend.BatchDelete(ctx, ids); err != nil {
		return s.fail("bulk_delete", ids, err)
	}
	return nil
}

// SnoozeNotification hides id for d. Snooze is local to this device.
func (s *Service) SnoozeNotification(id string, d time.Duration) bool {
	if !s.agg.Snooze(id, d) {
		return false
	}
	s.saveMark(id)
	return true
}

// PinNotification pins id. Pins are local to this device.
func (s *Service) PinNotification(id string) bool {
	if !s.agg.Pin(id) {
		return false
	}
	s.saveMark(id)
	return true
}

// UnpinNotification clears the pin on id.
func (s *Service) UnpinNotification(id string) bool {
	if !s.agg.Unpin(id) {
		return false
	}
	s.saveMark(id)
	return true
}

// UpdateFilters replaces the active filter.
func (s *Service) UpdateFilters(f model.Filter) { s.agg.SetFilter(f) }

// FilteredNotifications returns the visible list.
func (s *Service) FilteredNotifications() []model.Notification { return s.agg.Visible() }

// Summary returns the badge figures.
func (s *Service) Summary() model.Summary { return s.agg.Summary() }

// IsSocketConnected reports whether live updates are flowing.
func (s *Service) IsSocketConnected() bool {
	return s.socket != nil && s.socket.IsConnected()
}

// Preferences returns the local preferences, the source of truth for
// delivery side effects.
func (s *Service) Preferences(ctx context.Context) (model.Preferences, error) {
	if s.prefs == nil {
		return model.DefaultPreferences(), nil
	}
	return s.prefs.LoadPreferences(ctx)
}

// UpdatePreferences saves p locally and then pushes it to the server. The
// local save stands even when the server rejects it.
func (s *Service) UpdatePreferences(ctx context.Context, p model.Preferences) error {
	if s.prefs != nil {
		if err := s.prefs.SavePreferences(ctx, p); err != nil {
			return fmt.Errorf("saving preferences: %w", err)
		}
	}
	if err := s.backend.UpdatePreferences(ctx, p); err != nil {
		return s.fail("update_preferences", nil, err)
	}
	return nil
}

// ServerPreferences returns the server copy of the preferences. It is not
// reconciled with the local copy.
func (s *Service) ServerPreferences(ctx context.Context) (model.Preferences, error) {
	return s.backend.Preferences(ctx)
}

// Stats returns the server-side statistics.
func (s *Service) Stats(ctx context.Context) (model.Stats, error) {
	st, err := s.backend.Stats(ctx)
	if err != nil {
		return model.Stats{}, fmt.Errorf("fetching stats: %w", err)
	}
	return st, nil
}

func (s *Service) fail(action string, ids []string, err error) error {
	ae := &ActionError{Action: action, IDs: ids, Err: err}
	s.log.WithError(err).WithField("action", action).Warn("server rejected action")
	s.agg.ReportFailure(ae)
	return ae
}

func (s *Service) loadMarks(ctx context.Context) map[string]model.LocalMark {
	if s.Marks == nil {
		return nil
	}
	marks, err := s.Marks.LoadMarks(ctx)
	if err != nil {
		s.log.WithError(err).Warn("loading local marks")
		return nil
	}
	return marks
}

// saveMark is best effort: the in-memory state already changed.
func (s *Service) saveMark(id string) {
	if s.Marks == nil {
		return
	}
	n, ok := s.agg.Get(id)
	if !ok {
		return
	}
	m := model.LocalMark{ID: id, Pinned: n.Pinned, SnoozedUntil: n.SnoozedUntil}
	if err := s.Marks.SaveMark(context.Background(), m); err != nil {
		s.log.WithError(err).WithField("id", id).Warn("saving local mark")
	}
}
