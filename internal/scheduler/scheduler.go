// Package scheduler drives hourly work units through fetch, transcode,
// transcribe and merge, one unit at a time and in order. A failing unit is
// recorded and the run moves on; only cancellation stops it early.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ubv/ubv-transcribe/internal/chunk"
	"github.com/ubv/ubv-transcribe/internal/logging"
	"github.com/ubv/ubv-transcribe/internal/paths"
	"github.com/ubv/ubv-transcribe/internal/retry"
	"github.com/ubv/ubv-transcribe/internal/transcript"
)

// Fetcher retrieves the video for one unit into outDir.
type Fetcher interface {
	FetchChunk(ctx context.Context, unit chunk.WorkUnit, outDir string) (string, error)
}

// Transcoder produces a mono 16 kHz WAV for a video and disposes of it.
type Transcoder interface {
	ToWAV(ctx context.Context, videoPath string) (string, error)
	Remove(wavPath string) error
}

// Transcriber turns WAV audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (string, error)
}

// Merger appends segments to daily documents.
type Merger interface {
	AppendSegment(camera string, seg transcript.Segment) (*transcript.Document, bool, error)
	Path(camera string, day time.Time) string
}

// Recorder persists unit outcomes.
type Recorder interface {
	RecordResult(ctx context.Context, res ChunkResult) error
}

// Publisher mirrors an updated document elsewhere.
type Publisher interface {
	Publish(ctx context.Context, localPath, relPath string) error
}

// CleanupPolicy decides when the downloaded video is deleted.
type CleanupPolicy string

const (
	CleanupAlways    CleanupPolicy = "always"
	CleanupOnSuccess CleanupPolicy = "on-success"
	CleanupNever     CleanupPolicy = "never"
)

// ParseCleanupPolicy validates a policy name.
func ParseCleanupPolicy(s string) (CleanupPolicy, error) {
	switch p := CleanupPolicy(s); p {
	case CleanupAlways, CleanupOnSuccess, CleanupNever:
		return p, nil
	case "":
		return CleanupOnSuccess, nil
	default:
		return "", fmt.Errorf("unknown cleanup policy %q", s)
	}
}

// Config wires the scheduler's collaborators. Transcriber, Recorder and
// Publisher are optional.
type Config struct {
	Fetcher     Fetcher
	Transcoder  Transcoder
	Transcriber Transcriber
	Merger      Merger
	Recorder    Recorder
	Publisher   Publisher
	Retrier     *retry.Retrier

	VideosDir string
	Cleanup   CleanupPolicy
	Logger    *slog.Logger

	// OnResult, when set, is called after each unit reaches its outcome.
	OnResult func(ChunkResult)
	// Now is the clock used for timings; defaults to time.Now.
	Now func() time.Time
}

// Scheduler runs work units sequentially.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and returns a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("scheduler: fetcher is required")
	}
	if cfg.Transcoder == nil {
		return nil, errors.New("scheduler: transcoder is required")
	}
	if cfg.Transcriber != nil && cfg.Merger == nil {
		return nil, errors.New("scheduler: merger is required when transcription is configured")
	}
	if cfg.Retrier == nil {
		cfg.Retrier = retry.New(retry.Policy{MaxAttempts: 1})
	}
	if cfg.Cleanup == "" {
		cfg.Cleanup = CleanupOnSuccess
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		cfg:    cfg,
		logger: logging.WithComponent(logging.OrDiscard(cfg.Logger), "scheduler"),
	}, nil
}

// TranscriptionEnabled reports whether units go through transcription and merge.
func (s *Scheduler) TranscriptionEnabled() bool { return s.cfg.Transcriber != nil }

// Process runs every unit in order and returns the run summary. Cancelling
// ctx stops the run before the next unit; the partial summary is returned
// together with ctx's error.
func (s *Scheduler) Process(ctx context.Context, units []chunk.WorkUnit) (Summary, error) {
	started := s.cfg.Now()
	sum := Summary{Total: len(units)}

	s.logger.Info("processing work units",
		"units", len(units),
		"transcription", s.TranscriptionEnabled(),
		"cleanup", string(s.cfg.Cleanup),
	)

	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			sum.Elapsed = s.cfg.Now().Sub(started)
			s.logger.Warn("run cancelled", "processed", sum.Attempted, "remaining", len(units)-i)
			return sum, err
		}

		res := s.processUnit(ctx, unit)
		sum.add(res)
		s.logResult(i+1, len(units), res)

		if s.cfg.Recorder != nil {
			if err := s.cfg.Recorder.RecordResult(ctx, res); err != nil {
				s.logger.Warn("failed to record unit result", "unit", unit.String(), "error", err)
			}
		}
		if s.cfg.OnResult != nil {
			s.cfg.OnResult(res)
		}
	}

	sum.Elapsed = s.cfg.Now().Sub(started)
	s.logger.Info("run complete",
		"attempted", sum.Attempted,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"duplicates", sum.Duplicates,
		"success_rate", fmt.Sprintf("%.1f%%", sum.SuccessRate()),
	)
	return sum, nil
}

func (s *Scheduler) processUnit(ctx context.Context, unit chunk.WorkUnit) (res ChunkResult) {
	began := s.cfg.Now()
	res.Unit = unit
	defer func() { res.Duration = s.cfg.Now().Sub(began) }()

	videoPath, err := retry.Execute(ctx, s.cfg.Retrier, func(ctx context.Context) (string, error) {
		res.Attempts++
		return s.cfg.Fetcher.FetchChunk(ctx, unit, s.cfg.VideosDir)
	})
	if err != nil {
		return failed(res, StageFetch, err)
	}
	res.VideoPath = videoPath
	defer s.cleanupVideo(&res)

	wavPath, err := s.cfg.Transcoder.ToWAV(ctx, videoPath)
	if err != nil {
		return failed(res, StageTranscode, err)
	}
	defer func() {
		if err := s.cfg.Transcoder.Remove(wavPath); err != nil {
			s.logger.Warn("failed to remove audio", "path", wavPath, "error", err)
		}
	}()

	if s.cfg.Transcriber == nil {
		res.Status = StatusSucceeded
		return res
	}

	text, err := s.cfg.Transcriber.Transcribe(ctx, wavPath)
	if err != nil {
		return failed(res, StageTranscribe, err)
	}
	res.Transcript = text
	res.HasTranscript = true

	seg := transcript.Segment{Start: unit.Start, End: unit.End, Text: text}
	if _, added, err := s.cfg.Merger.AppendSegment(unit.CameraName, seg); err != nil {
		return failed(res, StageMerge, err)
	} else if added {
		res.Merged = true
		s.publish(ctx, unit)
	} else {
		res.Duplicate = true
	}

	res.Status = StatusSucceeded
	return res
}

func failed(res ChunkResult, stage Stage, err error) ChunkResult {
	res.Status = StatusFailed
	res.FailedStage = stage
	res.Err = &StageError{Stage: stage, Err: err}
	return res
}

// cleanupVideo applies the cleanup policy once the unit has its outcome.
// Errors are logged only.
func (s *Scheduler) cleanupVideo(res *ChunkResult) {
	if res.VideoPath == "" {
		return
	}
	switch s.cfg.Cleanup {
	case CleanupNever:
		return
	case CleanupOnSuccess:
		if !res.Succeeded() {
			return
		}
	}
	if err := os.Remove(res.VideoPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove video", "path", res.VideoPath, "error", err)
		return
	}
	res.VideoRemoved = true
}

func (s *Scheduler) publish(ctx context.Context, unit chunk.WorkUnit) {
	if s.cfg.Publisher == nil {
		return
	}
	day := unit.Day()
	local := s.cfg.Merger.Path(unit.CameraName, day)
	rel := paths.TranscriptRelPath(unit.CameraName, day)
	if err := s.cfg.Publisher.Publish(ctx, local, rel); err != nil {
		s.logger.Warn("failed to publish document", "path", rel, "error", err)
	}
}

func (s *Scheduler) logResult(n, total int, res ChunkResult) {
	logger := logging.WithCamera(s.logger, res.Unit.CameraID, res.Unit.CameraName).With(
		"unit", fmt.Sprintf("%d/%d", n, total),
		"start", res.Unit.Start.Format("2006-01-02 15:04"),
	)
	if res.Succeeded() {
		logger.Info("unit succeeded",
			"attempts", res.Attempts,
			"merged", res.Merged,
			"duplicate", res.Duplicate,
			"duration_ms", res.Duration.Milliseconds(),
		)
		return
	}
	logger.Warn("unit failed",
		"stage", string(res.FailedStage),
		"attempts", res.Attempts,
		"video", res.VideoPath,
		"error", res.Err,
	)
}
