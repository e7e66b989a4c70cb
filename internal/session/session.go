// Package session assembles one signed-in client: a single connection, a
// single notification aggregate, and everything bound to them. Nothing
// here is global; tests build as many sessions as they need.
package session

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/teamboard/internal/api"
	"github.com/nhle/teamboard/internal/credential"
	"github.com/nhle/teamboard/internal/delivery"
	"github.com/nhle/teamboard/internal/dispatch"
	"github.com/nhle/teamboard/internal/model"
	"github.com/nhle/teamboard/internal/notify"
	"github.com/nhle/teamboard/internal/presence"
	"github.com/nhle/teamboard/internal/store"
	"github.com/nhle/teamboard/internal/sync"
	"github.com/nhle/teamboard/internal/transport"
	"github.com/nhle/teamboard/internal/transport/redisrelay"
)

// markRetention is how long an unpinned, elapsed mark is kept.
const markRetention = 30 * 24 * time.Hour

// Deps are the collaborators a session does not create itself.
type Deps struct {
	Vault *credential.Vault
	Store store.Store
	Log   logrus.FieldLogger

	// Dialer overrides the transport chosen by the configuration.
	Dialer transport.Dialer

	// Delivery options, mostly for tests.
	DeliveryOptions []delivery.Option
}

// Session holds the components of one signed-in client.
type Session struct {
	cfg *model.AppConfig
	log logrus.FieldLogger

	Events    *dispatch.Dispatcher
	Tokens    *credential.TokenSource
	Conn      *transport.Connection
	API       *api.Client
	Aggregate *notify.Aggregate
	Service   *notify.Service
	Presence  *presence.Coordinator
	Notifier  *delivery.Notifier
	Resync    *sync.Resyncer

	store    store.Store
	scope    *dispatch.Scope
	bindOnce gosync.Once
	closers  []func() error
}

// New wires a session from cfg. Nothing touches the network until Start.
func New(cfg *model.AppConfig, deps Deps) (*Session, error) {
	if deps.Vault == nil || deps.Store == nil {
		return nil, errors.New("session needs a vault and a store")
	}
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Session{
		cfg:    cfg,
		log:    log.WithField("component", "session"),
		Events: dispatch.New(log),
		Tokens: credential.NewTokenSource(deps.Vault),
		store:  deps.Store,
	}

	dialer := deps.Dialer
	if dialer == nil {
		d, err := s.dialerFromConfig()
		if err != nil {
			return nil, err
		}
		dialer = d
	}

	s.Conn = transport.NewConnection(dialer, s.Tokens, s.Events, transport.Options{
		BaseDelay:   cfg.Realtime.ReconnectBaseDelay(),
		MaxAttempts: cfg.Realtime.MaxReconnectAttempts,
		Log:         log,
	})
	s.API = api.NewClient(cfg.Server.BaseURL, s.Tokens)
	s.Aggregate = notify.New(notify.WithLogger(log))
	s.Service = notify.NewService(s.Aggregate, s.API, s.Conn, deps.Store, log)
	s.Service.Marks = deps.Store
	s.Presence = presence.New(s.Conn, log)
	s.Notifier = delivery.New(deps.Store, log, deps.DeliveryOptions...)
	s.Resync = sync.New(s.Service, time.Duration(cfg.Realtime.ResyncIntervalSec)*time.Second, log)
	s.Notifier.Bind(s.Aggregate.Observers())

	return s, nil
}

func (s *Session) dialerFromConfig() (transport.Dialer, error) {
	switch s.cfg.Realtime.Transport {
	case model.TransportRedis:
		d, err := redisrelay.NewDialer(s.cfg.Realtime.RedisURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, d.Client.Close)
		return d, nil
	default:
		url := s.cfg.Server.SocketURL
		if url == "" {
			u, err := transport.SocketURLFromBase(s.cfg.Server.BaseURL)
			if err != nil {
				return nil, fmt.Errorf("deriving socket url: %w", err)
			}
			url = u
		}
		return &transport.WebSocketDialer{URL: url}, nil
	}
}

// Start binds every component to the dispatcher on first use, connects,
// and loads the notification list. A connection failure other than bad
// credentials is not fatal: the transport keeps retrying and the list
// still loads over REST. Missing or rejected credentials are returned as
// transport.ErrUnauthenticated. Start may be called again after Logout;
// a closed session cannot be restarted.
func (s *Session) Start(ctx context.Context) error {
	s.bindOnce.Do(func() {
		s.scope = dispatch.NewScope(context.Background(), s.Events)
		s.Service.Bind(s.scope)
		s.Presence.Bind(s.scope)
		s.Resync.Bind(s.scope)
		s.Resync.Start()
	})

	if _, err := s.store.PruneMarks(ctx, time.Now().Add(-markRetention)); err != nil {
		s.log.WithError(err).Warn("pruning local marks")
	}

	if err := s.Conn.Connect(ctx); err != nil {
		if transport.IsUnauthenticated(err) {
			return err
		}
		s.log.WithError(err).Debug("connect deferred to the reconnect loop")
	}

	if err := s.Service.Refresh(ctx); err != nil {
		if transport.IsUnauthenticated(err) {
			return err
		}
		s.log.WithError(err).Warn("initial load failed")
	}
	return nil
}

// Login stores token and starts the session.
func (s *Session) Login(ctx context.Context, token string) error {
	if err := s.Tokens.Store(token); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	return s.Start(ctx)
}

// Logout drops all per-user state: the aggregate goes back to loading,
// snooze timers are cancelled, rooms are forgotten, the socket closes
// and the stored token and local marks are deleted.
func (s *Session) Logout(ctx context.Context) error {
	s.Aggregate.Clear()
	s.Presence.Reset()
	s.Conn.Disconnect()

	var errs []error
	if err := s.Tokens.Clear(); err != nil {
		errs = append(errs, fmt.Errorf("clearing token: %w", err))
	}
	if err := s.store.ClearMarks(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close stops background work and releases every subscription. The
// store belongs to the caller and stays open.
func (s *Session) Close() error {
	s.Resync.Stop()
	if s.scope != nil {
		s.scope.Release()
	}
	s.Conn.Disconnect()

	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
