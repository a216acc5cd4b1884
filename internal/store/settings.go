package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lox/ubikemap/internal/models"
)

const settingView = "view_mode"

// Setting returns a stored value, or ok=false when unset.
func (s *Store) Setting(key string) (value string, ok bool, err error) {
	err = s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// ViewMode returns the persisted view, table when unset or unrecognised.
func (s *Store) ViewMode() (models.View, error) {
	v, ok, err := s.Setting(settingView)
	if err != nil || !ok {
		return models.ViewTable, err
	}
	if view := models.View(v); view.Valid() {
		return view, nil
	}
	return models.ViewTable, nil
}

func (s *Store) SetViewMode(v models.View) error {
	if !v.Valid() {
		return fmt.Errorf("unknown view %q", v)
	}
	return s.SetSetting(settingView, string(v))
}
