package notify

import (
	"time"

	"github.com/nhle/teamboard/internal/model"
)

// View is an immutable copy of the aggregate's data. The derived queries
// are pure functions over it.
type View struct {
	// Notifications are newest first, as added.
	Notifications []model.Notification

	Unread int

	// ServerUnread is the count reported by the last REST fetch. It may
	// disagree with Unread; Unread always wins.
	ServerUnread int

	Filter model.Filter
}

// Visible applies the filter, hides snoozed items and moves pinned items
// to the front. Relative order is otherwise preserved.
func (v View) Visible(now time.Time) []model.Notification {
	var pinned, rest []model.Notification
	for _, n := range v.Notifications {
		if n.IsSnoozed(now) || !v.Filter.Matches(n) {
			continue
		}
		if n.Pinned {
			pinned = append(pinned, n)
		} else {
			rest = append(rest, n)
		}
	}
	return append(pinned, rest...)
}

// GroupByKind buckets the visible notifications by kind.
func (v View) GroupByKind(now time.Time) map[model.Kind][]model.Notification {
	groups := make(map[model.Kind][]model.Notification)
	for _, n := range v.Visible(now) {
		groups[n.Kind] = append(groups[n.Kind], n)
	}
	return groups
}

// CreatedWithin counts notifications created in the window ending at now.
func (v View) CreatedWithin(now time.Time, window time.Duration) int {
	since := now.Add(-window)
	count := 0
	for _, n := range v.Notifications {
		if n.CreatedAt.After(since) {
			count++
		}
	}
	return count
}

// UnreadByKind counts unread notifications per kind, snoozed included.
func (v View) UnreadByKind() map[model.Kind]int {
	counts := make(map[model.Kind]int)
	for _, n := range v.Notifications {
		if !n.Read {
			counts[n.Kind]++
		}
	}
	return counts
}

// Summary computes the badge and dashboard figures.
func (v View) Summary(now time.Time) model.Summary {
	s := model.Summary{
		Total:        len(v.Notifications),
		Unread:       v.Unread,
		ServerUnread: v.ServerUnread,
		Today:        v.CreatedWithin(now, 24*time.Hour),
		UnreadByKind: v.UnreadByKind(),
	}
	for _, n := range v.Notifications {
		if n.IsSnoozed(now) {
			s.Snoozed++
		}
		if n.Pinned {
			s.Pinned++
		}
	}
	return s
}

// countUnread is the ground truth the stored counter must match.
func countUnread(ns []model.Notification) int {
	count := 0
	for _, n := range ns {
		if !n.Read {
			count++
		}
	}
	return count
}
