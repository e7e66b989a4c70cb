// Package devserver is an in-memory stand-in for the board backend. It
// serves the notification REST endpoints and the real-time socket so the
// client can be run and tested without the real server.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/nhle/teamboard/internal/model"
)

// userState is everything the server keeps for one user.
type userState struct {
	notifications []model.Notification
	prefs         model.Preferences
	rooms         map[string]bool
}

// Server is the fake backend. Create it with New and mount Handler()
// under httptest or run it with Start.
type Server struct {
	secret []byte
	log    logrus.FieldLogger
	echo   *echo.Echo
	hub    *hub

	mu       sync.Mutex
	users    map[string]*userState
	failWith int
	requests []string

	// Per-user REST limit; zero means unlimited.
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter

	relay *redis.Client
}

// New creates a server that signs and verifies HS256 tokens with secret.
func New(secret string, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		secret: []byte(secret),
		log:    log.WithField("component", "devserver"),
		users:  make(map[string]*userState),
	}
	s.hub = newHub(s)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	g := e.Group("/api", s.authenticate)
	g.GET("/ws", s.serveSocket)
	s.registerREST(g)

	s.echo = e
	return s
}

// Handler returns the HTTP handler, for use with httptest.NewServer.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the listener and closes every socket.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	return s.echo.Shutdown(ctx)
}

// IssueToken signs a token for userID valid for ttl.
func (s *Server) IssueToken(userID string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return tok, nil
}

// authenticate accepts the bearer header or, for socket upgrades, the
// token query parameter.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			if tok := c.QueryParam("token"); tok != "" {
				authHeader = "Bearer " + tok
			}
		}
		userID, err := s.userIDFromAuthHeader(authHeader)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
		c.Set("userId", userID)
		return next(c)
	}
}

func (s *Server) userIDFromAuthHeader(h string) (string, error) {
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("missing bearer token")
	}
	return s.userIDFromToken(parts[1])
}

func (s *Server) userIDFromToken(tokenStr string) (string, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	claims := &jwt.RegisteredClaims{}
	if _, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("missing sub")
	}
	return claims.Subject, nil
}

// user returns the state for id, creating it. s.mu must be held.
func (s *Server) user(id string) *userState {
	u, ok := s.users[id]
	if !ok {
		u = &userState{prefs: model.DefaultPreferences(), rooms: make(map[string]bool)}
		s.users[id] = u
	}
	return u
}

// Seed stores notifications for userID without pushing them.
func (s *Server) Seed(userID string, ns ...model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	for _, n := range ns {
		u.notifications = append(u.notifications, withDefaults(n))
	}
	sortNewestFirst(u.notifications)
}

// Notify stores n and pushes notification:new to the user's sockets.
func (s *Server) Notify(userID string, n model.Notification) model.Notification {
	n = withDefaults(n)
	s.mu.Lock()
	u := s.user(userID)
	u.notifications = append([]model.Notification{n}, u.notifications...)
	s.mu.Unlock()

	s.Push(userID, model.EventNotificationNew, n)
	return n
}

// Push sends one event to every socket of userID, and to the Redis relay
// when one is attached.
func (s *Server) Push(userID, event string, data any) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		s.log.WithError(err).WithField("event", event).Error("encoding frame")
		return
	}
	s.hub.sendToUser(userID, frame)
	s.publishRelay(userID, frame)
}

// PostMessage delivers a chat event to every user who joined the
// message's project room.
func (s *Server) PostMessage(event string, msg model.ProjectMessage) {
	s.mu.Lock()
	var targets []string
	for id, u := range s.users {
		if u.rooms[msg.ProjectID] {
			targets = append(targets, id)
		}
	}
	s.mu.Unlock()

	for _, id := range targets {
		s.Push(id, event, msg)
	}
}

// Rooms returns the project rooms userID has joined.
func (s *Server) Rooms(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rooms []string
	for id := range s.user(userID).rooms {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms
}

// Notifications returns a copy of the stored notifications of userID.
func (s *Server) Notifications(userID string) []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Notification(nil), s.user(userID).notifications...)
}

// FailRequests makes every REST call answer with status until it is
// called again with 0.
func (s *Server) FailRequests(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = status
}

// SetRateLimit caps REST calls per user. Calls over the limit get 429
// with a Retry-After header. A zero limit disables limiting.
func (s *Server) SetRateLimit(limit rate.Limit, burst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = limit
	s.burst = burst
	s.limiters = make(map[string]*rate.Limiter)
}

// limiter returns the user's limiter, or nil when limiting is off.
// Callers hold s.mu.
func (s *Server) limiter(userID string) *rate.Limiter {
	if s.limit == 0 {
		return nil
	}
	l, ok := s.limiters[userID]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[userID] = l
	}
	return l
}

// Requests lists the REST calls received so far as "METHOD path".
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// DropConnections closes every open socket, simulating a server restart.
func (s *Server) DropConnections() {
	s.hub.closeAll()
}

func withDefaults(n model.Notification) model.Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Kind == "" {
		n.Kind = model.KindSystem
	}
	return n
}

func sortNewestFirst(ns []model.Notification) {
	sort.SliceStable(ns, func(i, j int) bool {
		return ns[i].CreatedAt.After(ns[j].CreatedAt)
	})
}
