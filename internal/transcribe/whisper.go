// Package transcribe turns chunk audio into text with a whisper.cpp binary.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ubv/ubv-transcribe/internal/logging"
	"github.com/ubv/ubv-transcribe/internal/proc"
)

// ErrNotConfigured is returned by New when no binary or model is set.
var ErrNotConfigured = errors.New("transcription not configured")

// Config holds whisper.cpp settings.
type Config struct {
	Binary   string // whisper.cpp main/whisper-cli binary
	Model    string // ggml model path
	Language string // empty or "auto" lets whisper detect
	Runner   proc.Runner
	Logger   *slog.Logger
}

// Whisper runs whisper.cpp once per chunk.
type Whisper struct {
	binary   string
	model    string
	language string
	runner   proc.Runner
	logger   *slog.Logger
}

// New validates cfg and returns a Whisper. Both the binary and the model are
// required; ErrNotConfigured signals that transcription should be skipped.
func New(cfg Config) (*Whisper, error) {
	if strings.TrimSpace(cfg.Binary) == "" || strings.TrimSpace(cfg.Model) == "" {
		return nil, ErrNotConfigured
	}
	if _, err := os.Stat(cfg.Model); err != nil {
		return nil, fmt.Errorf("whisper model: %w", err)
	}

	logger := logging.WithComponent(logging.OrDiscard(cfg.Logger), "transcribe")
	if cfg.Runner == nil {
		cfg.Runner = proc.NewExecRunner(logger)
	}
	return &Whisper{
		binary:   cfg.Binary,
		model:    cfg.Model,
		language: normalizeLanguage(cfg.Language),
		runner:   cfg.Runner,
		logger:   logger,
	}, nil
}

// Transcribe runs whisper.cpp on wavPath and returns the transcript text.
// The text file whisper writes next to the audio is removed afterwards.
func (w *Whisper) Transcribe(ctx context.Context, wavPath string) (string, error) {
	base := strings.TrimSuffix(wavPath, filepath.Ext(wavPath))
	textPath := base + ".txt"
	defer os.Remove(textPath)

	if _, err := w.runner.Run(ctx, w.binary, buildArgs(w.model, wavPath, base, w.language)...); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}

	data, err := os.ReadFile(textPath)
	if err != nil {
		return "", fmt.Errorf("read whisper output: %w", err)
	}

	text := strings.TrimSpace(string(data))
	w.logger.Debug("transcribed chunk", "audio", filepath.Base(wavPath), "chars", len(text))
	return text, nil
}

func buildArgs(modelPath, audioPath, textBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", textBase,
		"-otxt",
	}
	if language != "" {
		args = append(args, "-l", language)
	}
	return args
}

func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "auto" {
		return ""
	}
	return lang
}
