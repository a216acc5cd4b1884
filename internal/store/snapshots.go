package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

// SnapshotsKept is how many feed snapshots survive pruning.
const SnapshotsKept = 24

// SaveSnapshot stores a compressed feed payload. Identical payloads are stored once.
func (s *Store) SaveSnapshot(raw []byte, fetchedAt time.Time) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(raw)
	_, err := s.db.Exec(`
		INSERT INTO snapshots (fetched_at, payload_compressed, payload_hash, size_bytes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(payload_hash) DO UPDATE SET fetched_at = excluded.fetched_at
	`, fetchedAt.UTC(), buf.Bytes(), hex.EncodeToString(hash[:]), len(raw))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return s.PruneSnapshots(SnapshotsKept)
}

// LatestSnapshot returns the most recent payload, or ok=false if none is stored.
func (s *Store) LatestSnapshot() (raw []byte, fetchedAt time.Time, ok bool, err error) {
	var compressed []byte
	err = s.db.QueryRow(`
		SELECT payload_compressed, fetched_at FROM snapshots
		ORDER BY fetched_at DESC, id DESC LIMIT 1
	`).Scan(&compressed, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("load snapshot: %w", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()
	raw, err = io.ReadAll(gz)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("decompress snapshot: %w", err)
	}
	return raw, fetchedAt, true, nil
}

// PruneSnapshots deletes all but the newest keep snapshots.
func (s *Store) PruneSnapshots(keep int) error {
	_, err := s.db.Exec(`
		DELETE FROM snapshots WHERE id NOT IN (
			SELECT id FROM snapshots ORDER BY fetched_at DESC, id DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}
