package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nhle/teamboard/internal/model"
)

type markRow struct {
	ID           string       `db:"id"`
	Pinned       int          `db:"pinned"`
	SnoozedUntil sql.NullTime `db:"snoozed_until"`
}

// LoadMarks returns every stored mark keyed by notification id.
func (s *SQLiteStore) LoadMarks(ctx context.Context) (map[string]model.LocalMark, error) {
	var rows []markRow
	err := s.db.SelectContext(ctx, &rows, "SELECT id, pinned, snoozed_until FROM local_marks")
	if err != nil {
		return nil, fmt.Errorf("querying local marks: %w", err)
	}

	marks := make(map[string]model.LocalMark, len(rows))
	for _, r := range rows {
		m := model.LocalMark{ID: r.ID, Pinned: r.Pinned == 1}
		if r.SnoozedUntil.Valid {
			until := r.SnoozedUntil.Time
			m.SnoozedUntil = &until
		}
		marks[r.ID] = m
	}
	return marks, nil
}

// SaveMark stores m. A mark that is neither pinned nor snoozed is removed.
func (s *SQLiteStore) SaveMark(ctx context.Context, m model.LocalMark) error {
	if !m.Pinned && m.SnoozedUntil == nil {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM local_marks WHERE id = ?", m.ID); err != nil {
			return fmt.Errorf("deleting local mark %s: %w", m.ID, err)
		}
		return nil
	}

	var until sql.NullTime
	if m.SnoozedUntil != nil {
		until = sql.NullTime{Time: m.SnoozedUntil.UTC(), Valid: true}
	}

	const query = `
		INSERT OR REPLACE INTO local_marks (id, pinned, snoozed_until, updated_at)
		VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, m.ID, boolToInt(m.Pinned), until, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving local mark %s: %w", m.ID, err)
	}
	return nil
}

// ClearMarks removes every mark, as on logout.
func (s *SQLiteStore) ClearMarks(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM local_marks"); err != nil {
		return fmt.Errorf("clearing local marks: %w", err)
	}
	return nil
}

// PruneMarks drops unpinned marks last touched before olderThan whose
// snooze has also elapsed. It returns how many were removed.
func (s *SQLiteStore) PruneMarks(ctx context.Context, olderThan time.Time) (int64, error) {
	const query = `
		DELETE FROM local_marks
		WHERE pinned = 0
		  AND updated_at < ?
		  AND (snoozed_until IS NULL OR snoozed_until < ?)`
	cutoff := olderThan.UTC()
	res, err := s.db.ExecContext(ctx, query, cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning local marks: %w", err)
	}
	return res.RowsAffected()
}
