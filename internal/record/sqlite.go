package record

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps all stage records in a single database, keyed by
// (site, season, stage). Useful when many sites share one data root and
// record scans should not touch the artifact tree.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed initializes) the record database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS stage_records (
			site TEXT NOT NULL,
			season INTEGER NOT NULL,
			stage TEXT NOT NULL,
			run_id TEXT NOT NULL,
			parent_run_id TEXT NOT NULL DEFAULT '',
			completed_at TEXT NOT NULL,
			expected_units INTEGER NOT NULL,
			manifest TEXT NOT NULL,
			PRIMARY KEY (site, season, stage)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize record schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(site string, season int, stage string) (*StageRecord, error) {
	row := s.db.QueryRow(
		`SELECT run_id, parent_run_id, completed_at, expected_units, manifest
		 FROM stage_records WHERE site = ? AND season = ? AND stage = ?`,
		site, season, stage,
	)

	var rec StageRecord
	var completedAt, manifest string
	err := row.Scan(&rec.RunID, &rec.ParentRunID, &completedAt, &rec.ExpectedUnits, &manifest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read stage record: %w", err)
	}

	rec.Site, rec.Season, rec.Stage = site, season, stage
	if rec.CompletedAt, err = time.Parse(time.RFC3339Nano, completedAt); err != nil {
		return nil, fmt.Errorf("parse completion time: %w", err)
	}
	if err := json.Unmarshal([]byte(manifest), &rec.Manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteStore) Put(rec StageRecord) error {
	manifest, err := json.Marshal(rec.Manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO stage_records (site, season, stage, run_id, parent_run_id, completed_at, expected_units, manifest)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (site, season, stage) DO UPDATE SET
		   run_id = excluded.run_id,
		   parent_run_id = excluded.parent_run_id,
		   completed_at = excluded.completed_at,
		   expected_units = excluded.expected_units,
		   manifest = excluded.manifest`,
		rec.Site, rec.Season, rec.Stage, rec.RunID, rec.ParentRunID,
		rec.CompletedAt.UTC().Format(time.RFC3339Nano), rec.ExpectedUnits, string(manifest),
	)
	return err
}

func (s *SQLiteStore) Delete(site string, season int, stage string) error {
	_, err := s.db.Exec(
		`DELETE FROM stage_records WHERE site = ? AND season = ? AND stage = ?`,
		site, season, stage,
	)
	return err
}
