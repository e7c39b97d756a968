package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ubv/ubv-transcribe/internal/db"
)

func setupTestDB(t *testing.T) (*db.DB, *SQLiteRepository) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database, NewRepository(database.Conn())
}

func TestRunLifecycle(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := NewService(repo, nil)
	ctx := context.Background()

	run, err := svc.StartRun(ctx, RunKindDownload, RunParams{
		StartDate: "2024-01-01",
		EndDate:   "2024-01-02",
		Timezone:  "UTC",
		CameraIDs: []string{"cam1", "cam2"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)

	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, RunStatusRunning, got.Status)
	require.Equal(t, []string{"cam1", "cam2"}, got.CameraIDs)
	require.Nil(t, got.FinishedAt)

	counts := RunCounts{Attempted: 48, Succeeded: 47, Failed: 1, Duplicates: 3}
	require.NoError(t, svc.FinishRun(ctx, run, counts, nil))

	got, err = repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, RunStatusCompleted, got.Status)
	require.Equal(t, counts, got.Counts)
	require.NotNil(t, got.FinishedAt)
}

func TestFinishRun_Statuses(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := NewService(repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	interrupted, err := svc.StartRun(ctx, RunKindDownload, RunParams{})
	require.NoError(t, err)
	cancel()
	require.NoError(t, svc.FinishRun(ctx, interrupted, RunCounts{Attempted: 2}, context.Canceled))
	require.Equal(t, RunStatusInterrupted, interrupted.Status)

	failed, err := svc.StartRun(context.Background(), RunKindDiscover, RunParams{})
	require.NoError(t, err)
	require.NoError(t, svc.FinishRun(context.Background(), failed, RunCounts{}, errors.New("authentication failed")))

	got, err := repo.GetRun(context.Background(), failed.ID)
	require.NoError(t, err)
	require.Equal(t, RunStatusFailed, got.Status)
	require.Equal(t, "authentication failed", got.Error)
}

func TestRecordChunk_RoundTrip(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := NewService(repo, nil)
	ctx := context.Background()

	run, err := svc.StartRun(ctx, RunKindDownload, RunParams{})
	require.NoError(t, err)

	start := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
	ok := &ChunkRecord{
		CameraID: "cam1", CameraName: "Front Door",
		Start: start, End: start.Add(time.Hour),
		Status: ChunkStatusSucceeded, HasTranscript: true, Merged: true, Attempts: 2,
	}
	bad := &ChunkRecord{
		CameraID: "cam1", CameraName: "Front Door",
		Start: start.Add(time.Hour), End: start.Add(2 * time.Hour),
		Status: ChunkStatusFailed, Stage: "transcode", VideoPath: "/videos/x.mp4",
		Attempts: 1, Error: "ffmpeg exited 1",
	}
	require.NoError(t, svc.Record(ctx, run.ID, ok))
	require.NoError(t, svc.Record(ctx, run.ID, bad))
	require.NotZero(t, ok.ID)

	all, err := repo.ListChunks(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.True(t, all[0].Start.Equal(start))
	require.True(t, all[0].Merged)
	require.Equal(t, 2, all[0].Attempts)

	failures, err := svc.Failures(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, "transcode", failures[0].Stage)
	require.Equal(t, "/videos/x.mp4", failures[0].VideoPath)
	require.Equal(t, "ffmpeg exited 1", failures[0].Error)
}

func TestHistory_NewestFirst(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		run := &Run{ID: id, Kind: RunKindDownload, Status: RunStatusCompleted, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, repo.CreateRun(ctx, run))
	}

	runs, err := NewService(repo, nil).History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "c", runs[0].ID)
	require.Equal(t, "b", runs[1].ID)
}

func TestGetRun_Missing(t *testing.T) {
	_, repo := setupTestDB(t)
	run, err := repo.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, run)
}
