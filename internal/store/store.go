package store

import (
	"context"
	"time"

	"github.com/nhle/teamboard/internal/model"
)

// Preference keys. Values are stored as "true" or "false".
const (
	KeySound   = "sound"
	KeyDesktop = "desktop"
	KeyToast   = "toast"
)

// Store defines the local persistence interface: delivery preferences and
// the per-device pin and snooze marks.
type Store interface {
	// === Preferences ===

	LoadPreferences(ctx context.Context) (model.Preferences, error)
	SavePreferences(ctx context.Context, p model.Preferences) error

	// === Local marks ===

	LoadMarks(ctx context.Context) (map[string]model.LocalMark, error)
	SaveMark(ctx context.Context, m model.LocalMark) error
	ClearMarks(ctx context.Context) error
	PruneMarks(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}
