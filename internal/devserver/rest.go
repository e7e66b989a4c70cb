package devserver

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nhle/teamboard/internal/model"
)

type idsRequest struct {
	IDs []string `json:"ids"`
}

type listResponse struct {
	Notifications []model.Notification `json:"notifications"`
	UnreadCount   int                  `json:"unreadCount"`
}

func (s *Server) registerREST(g *echo.Group) {
	n := g.Group("/notifications", s.recordRequest)
	n.GET("", s.listNotifications)
	n.PUT("/read-all", s.markAllRead)
	n.PUT("/batch/read", s.batchMarkRead)
	n.DELETE("/batch", s.batchDelete)
	n.GET("/preferences", s.getPreferences)
	n.PUT("/preferences", s.putPreferences)
	n.GET("/stats", s.stats)
	n.PUT("/:id/read", s.markRead)
	n.DELETE("/:id", s.deleteNotification)
}

// recordRequest logs the call, applies the injected failure, if any,
// and enforces the per-user rate limit.
func (s *Server) recordRequest(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.mu.Lock()
		s.requests = append(s.requests, c.Request().Method+" "+c.Request().URL.Path)
		fail := s.failWith
		lim := s.limiter(userID(c))
		s.mu.Unlock()

		if fail != 0 {
			return c.JSON(fail, map[string]string{"error": "injected failure"})
		}
		if lim != nil && !lim.Allow() {
			r := lim.Reserve()
			wait := r.Delay()
			r.Cancel()
			c.Response().Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait.Seconds())))))
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
		}
		return next(c)
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get("userId").(string)
	return id
}

func (s *Server) listNotifications(c echo.Context) error {
	filter := model.Filter{Kind: model.Kind(c.QueryParam("type"))}
	filter.UnreadOnly, _ = strconv.ParseBool(c.QueryParam("unreadOnly"))
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	s.mu.Lock()
	u := s.user(userID(c))
	resp := listResponse{Notifications: []model.Notification{}}
	var matched []model.Notification
	for _, n := range u.notifications {
		if !n.Read {
			resp.UnreadCount++
		}
		if filter.Matches(n) {
			matched = append(matched, n)
		}
	}
	s.mu.Unlock()

	if limit > 0 {
		if page < 1 {
			page = 1
		}
		start := (page - 1) * limit
		if start > len(matched) {
			start = len(matched)
		}
		end := start + limit
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[start:end]
	}
	resp.Notifications = append(resp.Notifications, matched...)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) markRead(c echo.Context) error {
	uid, id := userID(c), c.Param("id")
	if !s.setRead(uid, id) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "notification not found"})
	}
	s.Push(uid, model.EventNotificationMarkedRead, model.NotificationRef{ID: id})
	return c.NoContent(http.StatusNoContent)
}

// setRead marks one notification read and reports whether it exists.
func (s *Server) setRead(uid, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(uid)
	for i := range u.notifications {
		if u.notifications[i].ID == id {
			u.notifications[i].Read = true
			return true
		}
	}
	return false
}

func (s *Server) markAllRead(c echo.Context) error {
	uid := userID(c)
	s.mu.Lock()
	u := s.user(uid)
	for i := range u.notifications {
		u.notifications[i].Read = true
	}
	s.mu.Unlock()

	s.Push(uid, model.EventNotificationAllRead, struct{}{})
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteNotification(c echo.Context) error {
	uid, id := userID(c), c.Param("id")
	if s.remove(uid, map[string]bool{id: true}) == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "notification not found"})
	}
	s.Push(uid, model.EventNotificationDeleted, model.NotificationRef{ID: id})
	return c.NoContent(http.StatusNoContent)
}

// remove deletes the given ids and returns how many existed.
func (s *Server) remove(uid string, ids map[string]bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(uid)
	kept := u.notifications[:0]
	removed := 0
	for _, n := range u.notifications {
		if ids[n.ID] {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	u.notifications = kept
	return removed
}

func (s *Server) batchMarkRead(c echo.Context) error {
	var req idsRequest
	if err := c.Bind(&req); err != nil || len(req.IDs) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "ids are required"})
	}
	uid := userID(c)
	for _, id := range req.IDs {
		if s.setRead(uid, id) {
			s.Push(uid, model.EventNotificationMarkedRead, model.NotificationRef{ID: id})
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) batchDelete(c echo.Context) error {
	var req idsRequest
	if err := c.Bind(&req); err != nil || len(req.IDs) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "ids are required"})
	}
	uid := userID(c)
	set := make(map[string]bool, len(req.IDs))
	for _, id := range req.IDs {
		set[id] = true
	}
	s.remove(uid, set)
	for _, id := range req.IDs {
		s.Push(uid, model.EventNotificationDeleted, model.NotificationRef{ID: id})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getPreferences(c echo.Context) error {
	s.mu.Lock()
	p := s.user(userID(c)).prefs
	s.mu.Unlock()
	return c.JSON(http.StatusOK, p)
}

func (s *Server) putPreferences(c echo.Context) error {
	var p model.Preferences
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid preferences"})
	}
	s.mu.Lock()
	s.user(userID(c)).prefs = p
	s.mu.Unlock()
	return c.JSON(http.StatusOK, p)
}

func (s *Server) stats(c echo.Context) error {
	st := model.Stats{ByType: map[string]int{}}
	today := time.Now().Add(-24 * time.Hour)

	s.mu.Lock()
	for _, n := range s.user(userID(c)).notifications {
		st.Total++
		if !n.Read {
			st.Unread++
		}
		st.ByType[string(n.Kind)]++
		if n.CreatedAt.After(today) {
			st.Today++
		}
	}
	s.mu.Unlock()
	return c.JSON(http.StatusOK, st)
}
