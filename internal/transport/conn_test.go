package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/teamboard/internal/dispatch"
	"github.com/nhle/teamboard/internal/model"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type inbound struct {
	frame model.Frame
	err   error
}

type fakeSocket struct {
	in     chan inbound
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent []model.Frame
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{in: make(chan inbound, 8), closed: make(chan struct{})}
}

func (s *fakeSocket) Receive() (model.Frame, error) {
	select {
	case m := <-s.in:
		return m.frame, m.err
	case <-s.closed:
		return model.Frame{}, io.EOF
	}
}

func (s *fakeSocket) Send(f model.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, f)
	return nil
}

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// drop simulates the server going away.
func (s *fakeSocket) drop() { _ = s.Close() }

func (s *fakeSocket) Sent() []model.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Frame(nil), s.sent...)
}

type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	script  []any // *fakeSocket or error, consumed in order
	onEmpty error
}

func (d *fakeDialer) Dial(context.Context, string) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.script) == 0 {
		return nil, d.onEmpty
	}
	next := d.script[0]
	d.script = d.script[1:]
	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(*fakeSocket), nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type waits struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (w *waits) record(_ context.Context, d time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.delays = append(w.delays, d)
	return nil
}

func (w *waits) Delays() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.delays...)
}

type statusLog struct {
	mu  sync.Mutex
	all []Status
}

func watchStatus(d *dispatch.Dispatcher) *statusLog {
	l := &statusLog{}
	dispatch.On(d, EventStatus, func(st Status) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.all = append(l.all, st)
		return nil
	})
	return l
}

func (l *statusLog) States() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, len(l.all))
	for i, st := range l.all {
		out[i] = st.State
	}
	return out
}

func newTestConn(dialer Dialer, tokens TokenSource, maxAttempts int, w *waits) (*Connection, *dispatch.Dispatcher) {
	d := dispatch.New(quietLogger())
	opts := Options{
		BaseDelay:   100 * time.Millisecond,
		MaxAttempts: maxAttempts,
		Log:         quietLogger(),
	}
	if w != nil {
		opts.Wait = w.record
	}
	return NewConnection(dialer, tokens, d, opts), d
}

func TestConnectWithoutTokenFailsWithoutDialing(t *testing.T) {
	dialer := &fakeDialer{}
	c, d := newTestConn(dialer, StaticToken(""), 3, nil)
	log := watchStatus(d)

	err := c.Connect(context.Background())

	require.Error(t, err)
	assert.True(t, IsUnauthenticated(err))
	assert.Equal(t, 0, dialer.Dials())
	assert.Equal(t, StateDisconnected, c.Status().State)
	assert.Empty(t, log.States())
}

func TestConnectPublishesFramesAndEmits(t *testing.T) {
	sock := newFakeSocket()
	dialer := &fakeDialer{script: []any{sock}}
	c, d := newTestConn(dialer, StaticToken("tok"), 3, nil)
	log := watchStatus(d)

	got := make(chan model.NotificationRef, 1)
	dispatch.On(d, model.EventNotificationDeleted, func(ref model.NotificationRef) error {
		got <- ref
		return nil
	})

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())
	assert.Equal(t, []State{StateConnecting, StateConnected}, log.States())

	sock.in <- inbound{frame: model.Frame{Event: model.EventNotificationDeleted, Data: json.RawMessage(`{"id":"n1"}`)}}
	select {
	case ref := <-got:
		assert.Equal(t, "n1", ref.ID)
	case <-time.After(time.Second):
		t.Fatal("frame was not dispatched")
	}

	require.NoError(t, c.Emit(model.EventProjectJoin, model.RoomRef{ProjectID: "p1"}))
	sent := sock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, model.EventProjectJoin, sent[0].Event)
	assert.JSONEq(t, `{"projectId":"p1"}`, string(sent[0].Data))

	// Connecting again while connected does nothing.
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 1, dialer.Dials())
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	sock := newFakeSocket()
	c, d := newTestConn(&fakeDialer{script: []any{sock}}, StaticToken("tok"), 3, nil)

	got := make(chan struct{}, 1)
	d.Subscribe("ping", func(any) error {
		got <- struct{}{}
		return nil
	})
	require.NoError(t, c.Connect(context.Background()))

	sock.in <- inbound{err: &FrameError{Err: errors.New("bad json")}}
	sock.in <- inbound{frame: model.Frame{Event: "ping"}}

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("connection stopped reading after a malformed frame")
	}
	assert.True(t, c.IsConnected())
}

func TestEmitWhenDisconnectedIsTransportError(t *testing.T) {
	c, _ := newTestConn(&fakeDialer{}, StaticToken("tok"), 3, nil)

	err := c.Emit(model.EventProjectJoin, model.RoomRef{ProjectID: "p1"})

	require.Error(t, err)
	assert.True(t, IsTransportError(err))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestReconnectBackoffStopsAfterMaxAttempts(t *testing.T) {
	sock := newFakeSocket()
	dialer := &fakeDialer{
		script:  []any{sock},
		onEmpty: errors.New("connection refused"),
	}
	w := &waits{}
	c, _ := newTestConn(dialer, StaticToken("tok"), 3, w)

	require.NoError(t, c.Connect(context.Background()))
	sock.drop()

	require.Eventually(t, func() bool {
		return c.Status().State == StateError
	}, time.Second, 5*time.Millisecond)

	st := c.Status()
	assert.ErrorIs(t, st.Err, ErrMaxRetriesExceeded)
	assert.Equal(t, 3, st.Attempt)

	delays := w.Delays()
	require.Len(t, delays, 3)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}, delays)
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
	}

	// One initial dial plus three retries, and nothing after giving up.
	assert.Equal(t, 4, dialer.Dials())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, dialer.Dials())
}

func TestReconnectResetsAttemptsAfterSuccess(t *testing.T) {
	first, second, third := newFakeSocket(), newFakeSocket(), newFakeSocket()
	dialer := &fakeDialer{script: []any{first, second, third}}
	w := &waits{}
	c, _ := newTestConn(dialer, StaticToken("tok"), 3, w)

	require.NoError(t, c.Connect(context.Background()))

	first.drop()
	require.Eventually(t, func() bool { return dialer.Dials() == 2 && c.IsConnected() }, time.Second, 5*time.Millisecond)

	second.drop()
	require.Eventually(t, func() bool { return dialer.Dials() == 3 && c.IsConnected() }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, w.Delays())
}

func TestUnauthenticatedDialIsNotRetried(t *testing.T) {
	sock := newFakeSocket()
	dialer := &fakeDialer{script: []any{sock, ErrUnauthenticated}}
	c, _ := newTestConn(dialer, StaticToken("tok"), 5, &waits{})

	require.NoError(t, c.Connect(context.Background()))
	sock.drop()

	require.Eventually(t, func() bool {
		return c.Status().State == StateError
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, c.Status().Err, ErrUnauthenticated)
	assert.Equal(t, 2, dialer.Dials())
}

func TestInitialDialFailureSchedulesReconnect(t *testing.T) {
	sock := newFakeSocket()
	dialer := &fakeDialer{script: []any{errors.New("refused"), sock}}
	c, _ := newTestConn(dialer, StaticToken("tok"), 3, &waits{})

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransportError(err))

	require.Eventually(t, c.IsConnected, time.Second, 5*time.Millisecond)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	sock := newFakeSocket()
	c, d := newTestConn(&fakeDialer{script: []any{sock}}, StaticToken("tok"), 3, nil)
	log := watchStatus(d)

	c.Disconnect()
	assert.Empty(t, log.States())

	require.NoError(t, c.Connect(context.Background()))
	c.Disconnect()
	c.Disconnect()

	assert.Equal(t, StateDisconnected, c.Status().State)
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, log.States())
	select {
	case <-sock.closed:
	default:
		t.Fatal("socket was not closed")
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	sock := newFakeSocket()
	dialer := &fakeDialer{script: []any{sock}, onEmpty: errors.New("refused")}

	waiting := make(chan struct{})
	var once sync.Once
	d := dispatch.New(quietLogger())
	c := NewConnection(dialer, StaticToken("tok"), d, Options{
		BaseDelay:   time.Millisecond,
		MaxAttempts: 5,
		Log:         quietLogger(),
		Wait: func(ctx context.Context, _ time.Duration) error {
			once.Do(func() { close(waiting) })
			<-ctx.Done()
			return ctx.Err()
		},
	})

	require.NoError(t, c.Connect(context.Background()))
	sock.drop()
	<-waiting

	c.Disconnect()
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, StateDisconnected, c.Status().State)
	assert.Equal(t, 1, dialer.Dials())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "connected", Status{State: StateConnected}.String())
	assert.Equal(t, "reconnecting (attempt 2)", Status{State: StateConnecting, Attempt: 2}.String())
	assert.Equal(t, "error(max reconnect attempts exceeded)", Status{State: StateError, Err: ErrMaxRetriesExceeded}.String())
	assert.True(t, Status{State: StateConnecting, Attempt: 1}.Reconnecting())
	assert.False(t, Status{State: StateConnecting}.Reconnecting())
}
