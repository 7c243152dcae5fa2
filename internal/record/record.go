// Package record persists stage completion markers. A record is written
// once, atomically, after a stage has verified all of its outputs; stage
// output on disk without a matching record counts for nothing.
package record

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for a stage.
var ErrNotFound = errors.New("stage record not found")

// StageRecord marks one stage as completed for a (site, season).
type StageRecord struct {
	Site        string    `json:"site"`
	Season      int       `json:"season"`
	Stage       string    `json:"stage"`
	RunID       string    `json:"run_id"`
	ParentRunID string    `json:"parent_run_id,omitempty"`
	CompletedAt time.Time `json:"completed_at"`

	// ExpectedUnits is the number of work units the stage was asked to
	// produce, kept so a later run can detect that the inputs grew or
	// shrank underneath the record.
	ExpectedUnits int `json:"expected_units"`

	// Manifest lists every output file, relative to the season
	// directory and sorted.
	Manifest []string `json:"manifest"`
}

// Store persists stage records. Implementations must make Put atomic:
// a crash leaves either the previous record or the new one, never a
// torn write.
type Store interface {
	Get(site string, season int, stage string) (*StageRecord, error)
	Put(rec StageRecord) error
	Delete(site string, season int, stage string) error
}
