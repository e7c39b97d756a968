package main

import (
	"context"

	"github.com/ubv/ubv-transcribe/internal/ledger"
	"github.com/ubv/ubv-transcribe/internal/scheduler"
)

// ledgerRecorder stores scheduler results as ledger chunk records.
type ledgerRecorder struct {
	ledger *ledger.Service
	runID  string
}

func (r *ledgerRecorder) RecordResult(ctx context.Context, res scheduler.ChunkResult) error {
	return r.ledger.Record(ctx, r.runID, chunkRecord(res))
}

func chunkRecord(res scheduler.ChunkResult) *ledger.ChunkRecord {
	rec := &ledger.ChunkRecord{
		CameraID:      res.Unit.CameraID,
		CameraName:    res.Unit.CameraName,
		Start:         res.Unit.Start,
		End:           res.Unit.End,
		Status:        ledger.ChunkStatusSucceeded,
		VideoPath:     res.VideoPath,
		HasTranscript: res.HasTranscript,
		Merged:        res.Merged,
		Attempts:      res.Attempts,
	}
	if !res.Succeeded() {
		rec.Status = ledger.ChunkStatusFailed
		rec.Stage = string(res.FailedStage)
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	return rec
}
