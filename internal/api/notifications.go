package api

import (
	"context"
	"net/url"
	"strconv"

	"github.com/nhle/teamboard/internal/model"
)

// ListOptions are the query parameters of GET /notifications.
type ListOptions struct {
	Kind       model.Kind
	UnreadOnly bool
	Page       int
	Limit      int
}

func (o ListOptions) query() string {
	q := url.Values{}
	if o.Kind != "" {
		q.Set("type", string(o.Kind))
	}
	if o.UnreadOnly {
		q.Set("unreadOnly", "true")
	}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// ListResult is the body of GET /notifications.
type ListResult struct {
	Notifications []model.Notification `json:"notifications"`
	UnreadCount   int                  `json:"unreadCount"`
}

type idsBody struct {
	IDs []string `json:"ids"`
}

// ListNotifications fetches one page of notifications.
func (c *Client) ListNotifications(ctx context.Context, opts ListOptions) (*ListResult, error) {
	var res ListResult
	if err := c.get(ctx, "/notifications"+opts.query(), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// MarkRead marks one notification read.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.put(ctx, "/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// MarkAllRead marks every notification of the user read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.put(ctx, "/notifications/read-all", nil, nil)
}

// DeleteNotification deletes one notification.
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	return c.delete(ctx, "/notifications/"+url.PathEscape(id), nil)
}

// BatchMarkRead marks the given notifications read.
func (c *Client) BatchMarkRead(ctx context.Context, ids []string) error {
	return c.put(ctx, "/notifications/batch/read", idsBody{IDs: ids}, nil)
}

// BatchDelete deletes the given notifications.
func (c *Client) BatchDelete(ctx context.Context, ids []string) error {
	return c.delete(ctx, "/notifications/batch", idsBody{IDs: ids})
}

// Preferences returns the server copy of the delivery preferences.
func (c *Client) Preferences(ctx context.Context) (model.Preferences, error) {
	var p model.Preferences
	if err := c.get(ctx, "/notifications/preferences", &p); err != nil {
		return model.Preferences{}, err
	}
	return p, nil
}

// UpdatePreferences replaces the server copy of the delivery preferences.
func (c *Client) UpdatePreferences(ctx context.Context, p model.Preferences) error {
	return c.put(ctx, "/notifications/preferences", p, nil)
}

// Stats returns the server-side notification statistics.
func (c *Client) Stats(ctx context.Context) (model.Stats, error) {
	var s model.Stats
	if err := c.get(ctx, "/notifications/stats", &s); err != nil {
		return model.Stats{}, err
	}
	return s, nil
}
