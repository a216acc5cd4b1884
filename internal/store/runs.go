package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lox/ubikemap/internal/models"
)

// StartRefreshRun records the start of a feed refresh.
func (s *Store) StartRefreshRun() (*models.RefreshRun, error) {
	run := &models.RefreshRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO refresh_runs (id, started_at, success, discarded) VALUES (?, ?, FALSE, FALSE)
	`, run.ID, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("start refresh run: %w", err)
	}
	return run, nil
}

// CompleteRefreshRun stores the outcome of a run.
func (s *Store) CompleteRefreshRun(run *models.RefreshRun) error {
	if run == nil {
		return nil
	}
	if !run.CompletedAt.Valid {
		run.CompletedAt.Time = time.Now().UTC()
		run.CompletedAt.Valid = true
	}
	_, err := s.db.Exec(`
		UPDATE refresh_runs SET
			completed_at = ?,
			success = ?,
			discarded = ?,
			station_count = ?,
			error_message = ?
		WHERE id = ?
	`, run.CompletedAt, run.Success, run.Discarded, run.StationCount, run.ErrorMessage, run.ID)
	if err != nil {
		return fmt.Errorf("complete refresh run: %w", err)
	}
	return nil
}

// RecentRefreshRuns returns the latest runs, newest first.
func (s *Store) RecentRefreshRuns(limit int) ([]models.RefreshRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, completed_at, success, discarded, station_count, error_message
		FROM refresh_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list refresh runs: %w", err)
	}
	defer rows.Close()

	runs := []models.RefreshRun{}
	for rows.Next() {
		var r models.RefreshRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.CompletedAt, &r.Success, &r.Discarded, &r.StationCount, &r.ErrorMessage); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RefreshHealth summarises refresh runs since a point in time.
type RefreshHealth struct {
	Total       int        `json:"total"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Discarded   int        `json:"discarded"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
}

func (s *Store) RefreshHealth(since time.Time) (RefreshHealth, error) {
	var h RefreshHealth
	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN success AND NOT discarded THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN NOT success AND completed_at IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN discarded THEN 1 ELSE 0 END), 0)
		FROM refresh_runs
		WHERE started_at >= ?
	`, since.UTC()).Scan(&h.Total, &h.Succeeded, &h.Failed, &h.Discarded)
	if err != nil {
		return h, fmt.Errorf("refresh health: %w", err)
	}

	var last models.RefreshRun
	err = s.db.QueryRow(`
		SELECT completed_at FROM refresh_runs
		WHERE success AND NOT discarded AND completed_at IS NOT NULL
		ORDER BY completed_at DESC LIMIT 1
	`).Scan(&last.CompletedAt)
	if err == nil && last.CompletedAt.Valid {
		t := last.CompletedAt.Time
		h.LastSuccess = &t
	}
	return h, nil
}
