package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nhle/teamboard/internal/model"
)

type preferenceRow struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

// LoadPreferences returns the stored preferences. Keys never saved keep
// their default.
func (s *SQLiteStore) LoadPreferences(ctx context.Context) (model.Preferences, error) {
	var rows []preferenceRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT key, value FROM preferences"); err != nil {
		return model.Preferences{}, fmt.Errorf("querying preferences: %w", err)
	}

	p := model.DefaultPreferences()
	for _, r := range rows {
		v, err := strconv.ParseBool(r.Value)
		if err != nil {
			return model.Preferences{}, fmt.Errorf("parsing preference %s: %w", r.Key, err)
		}
		switch r.Key {
		case KeySound:
			p.Sound = v
		case KeyDesktop:
			p.Desktop = v
		case KeyToast:
			p.Toast = v
		}
	}
	return p, nil
}

// SavePreferences writes every preference in one transaction.
func (s *SQLiteStore) SavePreferences(ctx context.Context, p model.Preferences) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing preference statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for key, v := range map[string]bool{
		KeySound:   p.Sound,
		KeyDesktop: p.Desktop,
		KeyToast:   p.Toast,
	} {
		if _, err := stmt.ExecContext(ctx, key, strconv.FormatBool(v), now); err != nil {
			return fmt.Errorf("saving preference %s: %w", key, err)
		}
	}

	return tx.Commit()
}
