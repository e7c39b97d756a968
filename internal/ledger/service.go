package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ubv/ubv-transcribe/internal/logging"
)

// Service wraps a Repository with run lifecycle helpers.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logging.WithComponent(logging.OrDiscard(logger), "ledger")}
}

// RunParams describes what a run was asked to do.
type RunParams struct {
	StartDate string
	EndDate   string
	Timezone  string
	CameraIDs []string
}

// StartRun inserts a new running run.
func (s *Service) StartRun(ctx context.Context, kind string, p RunParams) (*Run, error) {
	run := NewRun(kind)
	run.StartDate = p.StartDate
	run.EndDate = p.EndDate
	run.Timezone = p.Timezone
	run.CameraIDs = p.CameraIDs

	if err := s.repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	s.logger.Debug("run started", "run_id", run.ID, "kind", kind)
	return run, nil
}

// Record stores one chunk outcome for runID.
func (s *Service) Record(ctx context.Context, runID string, rec *ChunkRecord) error {
	rec.RunID = runID
	if err := s.repo.RecordChunk(ctx, rec); err != nil {
		return fmt.Errorf("record chunk: %w", err)
	}
	return nil
}

// FinishRun closes run. A nil runErr marks it completed, a cancelled context
// marks it interrupted, anything else failed.
func (s *Service) FinishRun(ctx context.Context, run *Run, counts RunCounts, runErr error) error {
	status := RunStatusCompleted
	msg := ""
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status = RunStatusInterrupted
		msg = runErr.Error()
	default:
		status = RunStatusFailed
		msg = runErr.Error()
	}

	// The caller's context may already be cancelled; the final update must
	// still land.
	if err := s.repo.FinishRun(context.WithoutCancel(ctx), run.ID, status, counts, msg); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	run.Status = status
	run.Counts = counts
	run.Error = msg
	s.logger.Debug("run finished", "run_id", run.ID, "status", status)
	return nil
}

// History returns the most recent runs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]*Run, error) {
	return s.repo.ListRuns(ctx, limit)
}

// Failures returns the failed chunk records of a run.
func (s *Service) Failures(ctx context.Context, runID string) ([]*ChunkRecord, error) {
	return s.repo.ListFailedChunks(ctx, runID)
}
