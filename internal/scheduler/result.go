package scheduler

import (
	"fmt"
	"time"

	"github.com/ubv/ubv-transcribe/internal/chunk"
)

// Stage names a step of the per-unit pipeline.
type Stage string

const (
	StageFetch      Stage = "fetch"
	StageTranscode  Stage = "transcode"
	StageTranscribe Stage = "transcribe"
	StageMerge      Stage = "merge"
)

// Status is the terminal outcome of a unit.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// StageError is a unit failure attributed to the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ChunkResult is the immutable outcome of one work unit.
type ChunkResult struct {
	Unit   chunk.WorkUnit
	Status Status

	// VideoPath is set once the fetch succeeded, even if the file was later
	// cleaned up (see VideoRemoved).
	VideoPath    string
	VideoRemoved bool

	Transcript    string
	HasTranscript bool // distinguishes an empty transcript from none

	Merged    bool // a new segment was added to the daily document
	Duplicate bool // the segment was already present

	FailedStage Stage
	Err         error

	Attempts int // fetch attempts used
	Duration time.Duration
}

// Succeeded reports whether every configured stage completed.
func (r ChunkResult) Succeeded() bool { return r.Status == StatusSucceeded }

// Summary aggregates the results of a run.
type Summary struct {
	Total         int // units handed to Process
	Attempted     int
	Succeeded     int
	Failed        int
	Duplicates    int
	FailedByStage map[Stage]int
	Elapsed       time.Duration
	Results       []ChunkResult
}

// SuccessRate is the percentage of attempted units that succeeded.
func (s Summary) SuccessRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return 100 * float64(s.Succeeded) / float64(s.Attempted)
}

// Skipped is the number of units never started because the run stopped early.
func (s Summary) Skipped() int { return s.Total - s.Attempted }

func (s *Summary) add(r ChunkResult) {
	s.Attempted++
	s.Results = append(s.Results, r)
	if r.Duplicate {
		s.Duplicates++
	}
	if r.Succeeded() {
		s.Succeeded++
		return
	}
	s.Failed++
	if s.FailedByStage == nil {
		s.FailedByStage = make(map[Stage]int)
	}
	s.FailedByStage[r.FailedStage]++
}
