package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Repository persists runs and chunk outcomes.
type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id, status string, counts RunCounts, errMsg string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	RecordChunk(ctx context.Context, rec *ChunkRecord) error
	ListChunks(ctx context.Context, runID string) ([]*ChunkRecord, error)
	ListFailedChunks(ctx context.Context, runID string) ([]*ChunkRecord, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, status, start_date, end_date, timezone, camera_ids, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Kind, run.Status, nullString(run.StartDate), nullString(run.EndDate),
		nullString(run.Timezone), nullString(strings.Join(run.CameraIDs, ",")), formatTime(run.StartedAt))
	return err
}

func (r *SQLiteRepository) FinishRun(ctx context.Context, id, status string, counts RunCounts, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, attempted = ?, succeeded = ?, failed = ?, duplicates = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, status, counts.Attempted, counts.Succeeded, counts.Failed, counts.Duplicates,
		nullString(errMsg), formatTime(time.Now()), id)
	return err
}

const runColumns = `id, kind, status, start_date, end_date, timezone, camera_ids,
	attempted, succeeded, failed, duplicates, error, started_at, finished_at`

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *SQLiteRepository) RecordChunk(ctx context.Context, rec *ChunkRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO chunk_results (run_id, camera_id, camera_name, start_at, end_at, status, stage,
			video_path, has_transcript, merged, attempts, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.CameraID, rec.CameraName, formatTime(rec.Start), formatTime(rec.End), rec.Status,
		nullString(rec.Stage), nullString(rec.VideoPath), boolToInt(rec.HasTranscript), boolToInt(rec.Merged),
		rec.Attempts, nullString(rec.Error), formatTime(rec.RecordedAt))
	if err != nil {
		return err
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

func (r *SQLiteRepository) ListChunks(ctx context.Context, runID string) ([]*ChunkRecord, error) {
	return r.queryChunks(ctx, `WHERE run_id = ?`, runID)
}

func (r *SQLiteRepository) ListFailedChunks(ctx context.Context, runID string) ([]*ChunkRecord, error) {
	return r.queryChunks(ctx, `WHERE run_id = ? AND status = 'failed'`, runID)
}

func (r *SQLiteRepository) queryChunks(ctx context.Context, where string, args ...any) ([]*ChunkRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, camera_id, camera_name, start_at, end_at, status, stage, video_path,
			has_transcript, merged, attempts, error, recorded_at
		FROM chunk_results `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*ChunkRecord
	for rows.Next() {
		var rec ChunkRecord
		var start, end, recordedAt string
		var stage, videoPath, errMsg sql.NullString
		var hasTranscript, merged int

		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.CameraID, &rec.CameraName, &start, &end, &rec.Status,
			&stage, &videoPath, &hasTranscript, &merged, &rec.Attempts, &errMsg, &recordedAt); err != nil {
			return nil, err
		}
		rec.Start = parseTime(start)
		rec.End = parseTime(end)
		rec.RecordedAt = parseTime(recordedAt)
		rec.Stage = stage.String
		rec.VideoPath = videoPath.String
		rec.Error = errMsg.String
		rec.HasTranscript = hasTranscript == 1
		rec.Merged = merged == 1
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var startDate, endDate, tz, cameraIDs, errMsg, finishedAt sql.NullString
	var startedAt string

	err := s.Scan(&run.ID, &run.Kind, &run.Status, &startDate, &endDate, &tz, &cameraIDs,
		&run.Counts.Attempted, &run.Counts.Succeeded, &run.Counts.Failed, &run.Counts.Duplicates,
		&errMsg, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	run.StartDate = startDate.String
	run.EndDate = endDate.String
	run.Timezone = tz.String
	if cameraIDs.String != "" {
		run.CameraIDs = strings.Split(cameraIDs.String, ",")
	}
	run.Error = errMsg.String
	run.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		run.FinishedAt = &t
	}
	return &run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
