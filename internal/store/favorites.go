package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FavoritesExportVersion is written to and accepted from export files.
const FavoritesExportVersion = "1.0"

// ErrInvalidFavoritesFile is returned by ImportFavorites for unusable input.
var ErrInvalidFavoritesFile = errors.New("invalid favorites file format")

// FavoriteSet is a snapshot of favorite station IDs.
type FavoriteSet map[string]bool

func (f FavoriteSet) IsFavorite(id string) bool { return f[id] }

// FavoritesExport is the portable favorites file.
type FavoritesExport struct {
	Favorites  []string  `json:"favorites"`
	ExportDate time.Time `json:"exportDate"`
	Version    string    `json:"version"`
}

// IsFavorite reports exact membership.
func (s *Store) IsFavorite(stationID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM favorites WHERE station_id = ?`, stationID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup favorite: %w", err)
	}
	return n > 0, nil
}

// AddFavorite is a no-op for an existing favorite.
func (s *Store) AddFavorite(stationID string) error {
	if strings.TrimSpace(stationID) == "" {
		return errors.New("station id required")
	}
	_, err := s.db.Exec(`
		INSERT INTO favorites (station_id, added_at) VALUES (?, ?)
		ON CONFLICT(station_id) DO NOTHING
	`, stationID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

func (s *Store) RemoveFavorite(stationID string) error {
	if _, err := s.db.Exec(`DELETE FROM favorites WHERE station_id = ?`, stationID); err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

// ToggleFavorite flips membership and returns the new state.
func (s *Store) ToggleFavorite(stationID string) (bool, error) {
	if strings.TrimSpace(stationID) == "" {
		return false, errors.New("station id required")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin toggle: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM favorites WHERE station_id = ?`, stationID)
	if err != nil {
		return false, fmt.Errorf("toggle favorite: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if removed == 0 {
		if _, err := tx.Exec(`INSERT INTO favorites (station_id, added_at) VALUES (?, ?)`, stationID, time.Now().UTC()); err != nil {
			return false, fmt.Errorf("toggle favorite: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit toggle: %w", err)
	}
	return removed == 0, nil
}

func (s *Store) ClearFavorites() error {
	if _, err := s.db.Exec(`DELETE FROM favorites`); err != nil {
		return fmt.Errorf("clear favorites: %w", err)
	}
	return nil
}

// ListFavorites returns favorite IDs in the order they were added.
func (s *Store) ListFavorites() ([]string, error) {
	rows, err := s.db.Query(`SELECT station_id FROM favorites ORDER BY added_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) FavoriteCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM favorites`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count favorites: %w", err)
	}
	return n, nil
}

// Favorites loads the full set for filtering.
func (s *Store) Favorites() (FavoriteSet, error) {
	ids, err := s.ListFavorites()
	if err != nil {
		return nil, err
	}
	set := make(FavoriteSet, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// ExportFavorites snapshots the favorites for download.
func (s *Store) ExportFavorites(now time.Time) (*FavoritesExport, error) {
	ids, err := s.ListFavorites()
	if err != nil {
		return nil, err
	}
	return &FavoritesExport{Favorites: ids, ExportDate: now.UTC(), Version: FavoritesExportVersion}, nil
}

// ImportFavorites merges an export file into the existing favorites. It returns
// the number of IDs in the file and how many of them were new.
func (s *Store) ImportFavorites(data []byte) (imported, added int, err error) {
	var file struct {
		Favorites *[]string `json:"favorites"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidFavoritesFile, err)
	}
	if file.Favorites == nil {
		return 0, 0, fmt.Errorf("%w: missing favorites list", ErrInvalidFavoritesFile)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, id := range *file.Favorites {
		if strings.TrimSpace(id) == "" {
			continue
		}
		res, err := tx.Exec(`
			INSERT INTO favorites (station_id, added_at) VALUES (?, ?)
			ON CONFLICT(station_id) DO NOTHING
		`, id, now)
		if err != nil {
			return 0, 0, fmt.Errorf("import favorite %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit import: %w", err)
	}
	return len(*file.Favorites), added, nil
}
