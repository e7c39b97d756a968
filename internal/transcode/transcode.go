// Package transcode converts downloaded video chunks into the mono 16 kHz
// PCM WAV audio that whisper.cpp expects.
package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/ubv/ubv-transcribe/internal/logging"
	"github.com/ubv/ubv-transcribe/internal/proc"
)

const (
	SampleRate = 16000
	Channels   = 1
	Codec      = "pcm_s16le"
)

// Config holds the transcoder's dependencies.
type Config struct {
	FFmpegPath string // defaults to "ffmpeg"
	TempDir    string // parent for per-chunk work dirs; defaults to os.TempDir()
	Runner     proc.Runner
	Logger     *slog.Logger
}

// Transcoder runs ffmpeg for one chunk at a time.
type Transcoder struct {
	ffmpegPath string
	tempDir    string
	runner     proc.Runner
	logger     *slog.Logger
}

// New creates a Transcoder.
func New(cfg Config) *Transcoder {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	logger := logging.WithComponent(logging.OrDiscard(cfg.Logger), "transcode")
	if cfg.Runner == nil {
		cfg.Runner = proc.NewExecRunner(logger)
	}
	return &Transcoder{
		ffmpegPath: cfg.FFmpegPath,
		tempDir:    cfg.TempDir,
		runner:     cfg.Runner,
		logger:     logger,
	}
}

// BuildArgs returns the ffmpeg arguments that turn videoPath into a mono
// 16 kHz signed 16-bit little-endian WAV at wavPath.
func BuildArgs(videoPath, wavPath string) []string {
	return ffmpeg.Input(videoPath).
		Output(wavPath, ffmpeg.KwArgs{
			"acodec": Codec,
			"ar":     SampleRate,
			"ac":     Channels,
			"f":      "wav",
		}).
		OverWriteOutput().
		GetArgs()
}

// ToWAV transcodes videoPath into a WAV file inside a private temp directory
// and returns its path. Callers release it with Remove.
func (t *Transcoder) ToWAV(ctx context.Context, videoPath string) (string, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return "", fmt.Errorf("video artifact: %w", err)
	}

	dir, err := os.MkdirTemp(t.tempDir, "ubv-audio-*")
	if err != nil {
		return "", fmt.Errorf("create audio work dir: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	wavPath := filepath.Join(dir, base+".wav")

	if _, err := t.runner.Run(ctx, t.ffmpegPath, BuildArgs(videoPath, wavPath)...); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("ffmpeg: %w", err)
	}

	info, err := os.Stat(wavPath)
	if err != nil || info.Size() == 0 {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("ffmpeg produced no audio for %s", filepath.Base(videoPath))
	}

	t.logger.Debug("transcoded chunk", "video", filepath.Base(videoPath), "bytes", info.Size())
	return wavPath, nil
}

// Remove deletes a WAV produced by ToWAV together with its work directory.
func (t *Transcoder) Remove(wavPath string) error {
	if wavPath == "" {
		return nil
	}
	dir := filepath.Dir(wavPath)
	if !strings.HasPrefix(filepath.Base(dir), "ubv-audio-") {
		return os.Remove(wavPath)
	}
	return os.RemoveAll(dir)
}
