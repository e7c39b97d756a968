// Package ledger records every run and every chunk outcome in SQLite so
// interrupted runs and past failures can be inspected after the fact.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

const (
	RunKindDownload = "download"
	RunKindDiscover = "discover"

	RunStatusRunning     = "running"
	RunStatusCompleted   = "completed"
	RunStatusFailed      = "failed"
	RunStatusInterrupted = "interrupted"

	ChunkStatusSucceeded = "succeeded"
	ChunkStatusFailed    = "failed"
)

// Run is one invocation of the tool.
type Run struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	StartDate  string     `json:"start_date,omitempty"`
	EndDate    string     `json:"end_date,omitempty"`
	Timezone   string     `json:"timezone,omitempty"`
	CameraIDs  []string   `json:"camera_ids,omitempty"`
	Counts     RunCounts  `json:"counts"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunCounts are the summary totals stored on a finished run.
type RunCounts struct {
	Attempted  int `json:"attempted"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
}

// ChunkRecord is the persisted outcome of one work unit.
type ChunkRecord struct {
	ID            int64     `json:"id"`
	RunID         string    `json:"run_id"`
	CameraID      string    `json:"camera_id"`
	CameraName    string    `json:"camera_name"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Status        string    `json:"status"`
	Stage         string    `json:"stage,omitempty"`
	VideoPath     string    `json:"video_path,omitempty"`
	HasTranscript bool      `json:"has_transcript"`
	Merged        bool      `json:"merged"`
	Attempts      int       `json:"attempts"`
	Error         string    `json:"error,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// NewRun returns a running Run with a fresh id.
func NewRun(kind string) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
}
