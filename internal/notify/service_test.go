package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/teamboard/internal/api"
	"github.com/nhle/teamboard/internal/devserver"
	"github.com/nhle/teamboard/internal/dispatch"
	"github.com/nhle/teamboard/internal/model"
	"github.com/nhle/teamboard/internal/transport"
)

type fakeSocket struct {
	mu        sync.Mutex
	connected bool
	emitted   []string
}

func (s *fakeSocket) Emit(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, _ := json.Marshal(payload)
	s.emitted = append(s.emitted, event+" "+string(data))
	return nil
}

func (s *fakeSocket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

type memPrefs struct {
	p   model.Preferences
	err error
}

func (m *memPrefs) LoadPreferences(context.Context) (model.Preferences, error) { return m.p, m.err }

func (m *memPrefs) SavePreferences(_ context.Context, p model.Preferences) error {
	if m.err != nil {
		return m.err
	}
	m.p = p
	return nil
}

type memMarks struct {
	marks map[string]model.LocalMark
}

func (m *memMarks) LoadMarks(context.Context) (map[string]model.LocalMark, error) {
	out := make(map[string]model.LocalMark, len(m.marks))
	for id, mark := range m.marks {
		out[id] = mark
	}
	return out, nil
}

func (m *memMarks) SaveMark(_ context.Context, mark model.LocalMark) error {
	m.marks[mark.ID] = mark
	return nil
}

func (m *memMarks) ClearMarks(context.Context) error {
	m.marks = make(map[string]model.LocalMark)
	return nil
}

type fixture struct {
	svc    *Service
	agg    *Aggregate
	server *devserver.Server
	socket *fakeSocket
	prefs  *memPrefs
}

func newFixture(t *testing.T, wrap ...func(http.Handler) http.Handler) *fixture {
	t.Helper()
	server := devserver.New("secret", quietLogger())
	h := server.Handler()
	for _, w := range wrap {
		h = w(h)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	tok, err := server.IssueToken("u1", time.Hour)
	require.NoError(t, err)

	agg, _ := newTestAggregate()
	socket := &fakeSocket{connected: true}
	prefs := &memPrefs{p: model.DefaultPreferences()}
	client := api.NewClient(srv.URL+"/api", transport.StaticToken(tok))
	return &fixture{
		svc:    NewService(agg, client, socket, prefs, quietLogger()),
		agg:    agg,
		server: server,
		socket: socket,
		prefs:  prefs,
	}
}

func TestRefreshLoadsAggregate(t *testing.T) {
	f := newFixture(t)
	f.server.Seed("u1",
		model.Notification{ID: "a", Kind: "weird"},
		model.Notification{ID: "b", Read: true},
	)

	require.NoError(t, f.svc.Refresh(context.Background()))

	state, _ := f.agg.State()
	assert.Equal(t, StateReady, state)
	assert.Equal(t, 1, f.agg.UnreadCount())
	n, ok := f.agg.Get("a")
	require.True(t, ok)
	assert.Equal(t, model.KindSystem, n.Kind)
}

func raw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// stalledList answers the list request with the data as it stood when the
// request arrived, but holds the response until release is closed.
func stalledList(arrived chan<- struct{}, release <-chan struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet || r.URL.Path != "/api/notifications" {
				next.ServeHTTP(w, r)
				return
			}
			rec := httptest.NewRecorder()
			next.ServeHTTP(rec, r)
			arrived <- struct{}{}
			<-release
			for k, v := range rec.Header() {
				w.Header()[k] = v
			}
			w.WriteHeader(rec.Code)
			_, _ = w.Write(rec.Body.Bytes())
		})
	}
}

func TestRefreshKeepsChangesMadeWhileFetching(t *testing.T) {
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	f := newFixture(t, stalledList(arrived, release))
	f.server.Seed("u1", model.Notification{ID: "a"}, model.Notification{ID: "b"}, model.Notification{ID: "c"})
	f.agg.LoadInitial([]model.Notification{{ID: "a"}, {ID: "b"}, {ID: "c"}}, 3)

	d := dispatch.New(quietLogger())
	f.svc.Bind(d)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- f.svc.Refresh(ctx) }()
	<-arrived

	require.NoError(t, f.svc.MarkAsRead(ctx, "a"))
	d.Publish(model.EventNotificationNew, raw(model.Notification{ID: "live", Title: "arrived mid-fetch"}))
	d.Publish(model.EventNotificationDeleted, raw(model.NotificationRef{ID: "c"}))

	close(release)
	require.NoError(t, <-done)

	a, ok := f.agg.Get("a")
	require.True(t, ok)
	assert.True(t, a.Read, "read during the fetch stays read")
	_, ok = f.agg.Get("live")
	assert.True(t, ok, "live event during the fetch is kept")
	_, ok = f.agg.Get("c")
	assert.False(t, ok, "deleted during the fetch stays deleted")
	assert.Equal(t, 2, f.agg.UnreadCount())
	assertInvariant(t, f.agg)
}

func TestRefreshFailureMovesToError(t *testing.T) {
	f := newFixture(t)
	f.server.FailRequests(http.StatusInternalServerError)

	err := f.svc.Refresh(context.Background())

	require.Error(t, err)
	assert.True(t, api.IsAPIError(err))
	state, reason := f.agg.State()
	assert.Equal(t, StateError, state)
	assert.Error(t, reason)
}

func TestMarkAsReadIsOptimisticThenRemote(t *testing.T) {
	f := newFixture(t)
	f.server.Seed("u1", model.Notification{ID: "a"})
	require.NoError(t, f.svc.Refresh(context.Background()))

	require.NoError(t, f.svc.MarkAsRead(context.Background(), "a"))

	assert.Equal(t, 0, f.agg.UnreadCount())
	assert.True(t, f.server.Notifications("u1")[0].Read)
	assert.Equal(t, []string{`notification:mark_read {"id":"a"}`}, f.socket.emitted)
}

func TestFailedActionKeepsOptimisticStateAndSignals(t *testing.T) {
	f := newFixture(t)
	f.server.Seed("u1", model.Notification{ID: "a"}, model.Notification{ID: "b"})
	require.NoError(t, f.svc.Refresh(context.Background()))

	var failures []*ActionError
	OnActionFailed(f.agg.Observers(), func(e *ActionError) { failures = append(failures, e) })

	f.server.FailRequests(http.StatusBadGateway)
	err := f.svc.DeleteNotification(context.Background(), "a")

	require.Error(t, err)
	assert.True(t, IsActionError(err))
	var apiErr *api.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)

	_, stillThere := f.agg.Get("a")
	assert.False(t, stillThere, "no automatic rollback")
	require.Len(t, failures, 1)
	assert.Equal(t, "delete", failures[0].Action)
	assert.Equal(t, []string{"a"}, failures[0].IDs)
	assert.Empty(t, f.socket.emitted)
}

func TestBulkActions(t *testing.T) {
	f := newFixture(t)
	f.server.Seed("u1",
		model.Notification{ID: "a", Read: true},
		model.Notification{ID: "b"},
		model.Notification{ID: "c"},
	)
	ctx := context.Background()
	require.NoError(t, f.svc.Refresh(ctx))

	require.NoError(t, f.svc.BulkMarkAsRead(ctx, []string{"a", "b", "c"}))
	assert.Equal(t, 0, f.agg.UnreadCount())

	require.NoError(t, f.svc.BulkDelete(ctx, []string{"a", "b"}))
	assert.Len(t, f.agg.View().Notifications, 1)
	assert.Len(t, f.server.Notifications("u1"), 1)

	require.NoError(t, f.svc.BulkDelete(ctx, nil))
	require.NoError(t, f.svc.MarkAllAsRead(ctx))
}

func TestBindFoldsServerEvents(t *testing.T) {
	f := newFixture(t)
	d := dispatch.New(quietLogger())
	scope := dispatch.NewScope(nil, d)
	f.svc.Bind(scope)

	d.Publish(model.EventNotificationNew, raw(model.Notification{ID: "n1", Kind: model.KindMention}))
	d.Publish(model.EventNotificationNew, raw(model.Notification{ID: "n1", Kind: model.KindMention}))
	d.Publish(model.EventNotificationNew, raw(model.Notification{ID: "n2"}))
	assert.Equal(t, 2, f.agg.UnreadCount())

	d.Publish(model.EventNotificationMarkedRead, raw(model.NotificationRef{ID: "n1"}))
	d.Publish(model.EventNotificationMarkedRead, raw(model.NotificationRef{ID: "n1"}))
	assert.Equal(t, 1, f.agg.UnreadCount())

	d.Publish(model.EventNotificationDeleted, raw(model.NotificationRef{ID: "n2"}))
	assert.Equal(t, 0, f.agg.UnreadCount())
	assert.Len(t, f.agg.View().Notifications, 1)

	d.Publish(model.EventNotificationNew, raw(model.Notification{ID: "n3"}))
	d.Publish(model.EventNotificationAllRead, nil)
	assert.Equal(t, 0, f.agg.UnreadCount())

	scope.Release()
	d.Publish(model.EventNotificationNew, raw(model.Notification{ID: "n4"}))
	_, ok := f.agg.Get("n4")
	assert.False(t, ok)
}

func TestLocalOnlyActions(t *testing.T) {
	f := newFixture(t)
	f.agg.Add(model.Notification{ID: "a", Kind: model.KindMention})
	f.agg.Add(model.Notification{ID: "b", Kind: model.KindSystem})

	assert.True(t, f.svc.PinNotification("a"))
	assert.Equal(t, "a", f.svc.FilteredNotifications()[0].ID)
	assert.True(t, f.svc.UnpinNotification("a"))

	assert.True(t, f.svc.SnoozeNotification("b", time.Minute))
	assert.Len(t, f.svc.FilteredNotifications(), 1)

	f.svc.UpdateFilters(model.Filter{Kind: model.KindSystem})
	assert.Empty(t, f.svc.FilteredNotifications())
	assert.Equal(t, 2, f.svc.Summary().Unread)

	assert.Empty(t, f.server.Requests(), "snooze, pin and filters never reach the server")
}

func TestLocalMarksSurviveRefreshAndClear(t *testing.T) {
	f := newFixture(t)
	marks := &memMarks{marks: make(map[string]model.LocalMark)}
	f.svc.Marks = marks
	f.server.Seed("u1", model.Notification{ID: "a"}, model.Notification{ID: "b"})
	ctx := context.Background()
	require.NoError(t, f.svc.Refresh(ctx))

	require.True(t, f.svc.PinNotification("b"))
	require.True(t, f.svc.SnoozeNotification("a", time.Hour))
	assert.True(t, marks.marks["b"].Pinned)
	require.NotNil(t, marks.marks["a"].SnoozedUntil)

	require.NoError(t, f.svc.Refresh(ctx))
	visible := f.svc.FilteredNotifications()
	require.Len(t, visible, 1)
	assert.True(t, visible[0].Pinned)

	f.agg.Clear()
	require.NoError(t, f.svc.Refresh(ctx))
	n, ok := f.agg.Get("b")
	require.True(t, ok)
	assert.True(t, n.Pinned, "restored from the mark store")
	n, _ = f.agg.Get("a")
	assert.NotNil(t, n.SnoozedUntil)
}

func TestPreferencesSaveLocallyFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	want := model.Preferences{Toast: true}

	require.NoError(t, f.svc.UpdatePreferences(ctx, want))
	got, err := f.svc.Preferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	remote, err := f.svc.ServerPreferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, remote)

	f.server.FailRequests(http.StatusInternalServerError)
	other := model.Preferences{Sound: true}
	err = f.svc.UpdatePreferences(ctx, other)
	assert.True(t, IsActionError(err))
	got, _ = f.svc.Preferences(ctx)
	assert.Equal(t, other, got, "local copy stands when the server rejects")
}

func TestStatsAndConnection(t *testing.T) {
	f := newFixture(t)
	f.server.Seed("u1", model.Notification{ID: "a", Kind: model.KindMention})

	st, err := f.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Unread)

	assert.True(t, f.svc.IsSocketConnected())
	f.socket.connected = false
	assert.False(t, f.svc.IsSocketConnected())
}
