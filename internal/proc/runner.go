// Package proc runs external tools (ffmpeg, whisper.cpp) as subprocesses and
// keeps a bounded tail of their stderr for diagnostics.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/ubv/ubv-transcribe/internal/logging"
)

const maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

// Result is the outcome of one subprocess invocation.
type Result struct {
	Command    string
	Args       []string
	ExitCode   int
	Stdout     string
	StderrTail string
	Duration   time.Duration
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r Result) IsSuccess() bool { return r.ExitCode == 0 }

// ExitError is returned when a command could not start or exited non-zero.
type ExitError struct {
	Result Result
	Err    error
}

func (e *ExitError) Error() string {
	tail := truncate(e.Result.StderrTail, 512)
	if tail == "" {
		return fmt.Sprintf("%s exited %d: %v", e.Result.Command, e.Result.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s exited %d: %s", e.Result.Command, e.Result.ExitCode, tail)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Runner abstracts process execution so callers can be tested without the
// real binaries.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner is the os/exec implementation of Runner.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	return &ExecRunner{logger: logging.OrDiscard(logger)}
}

// Run executes name with args. Stdout is captured in full (tools here write
// little to it); stderr keeps only its last 8 KB.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderr, limit: maxStderrBytes})

	r.logger.Debug("executing command", "command", name, "args", args)

	err := cmd.Run()
	res := Result{
		Command:    name,
		Args:       args,
		Stdout:     stdout.String(),
		StderrTail: stderr.String(),
		Duration:   time.Since(start),
	}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		r.logger.Warn("command failed",
			"command", name,
			"exit_code", res.ExitCode,
			"duration_ms", res.Duration.Milliseconds(),
			"stderr_tail", truncate(res.StderrTail, 512),
		)
		return res, &ExitError{Result: res, Err: err}
	}

	r.logger.Debug("command succeeded", "command", name, "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

// LookPath resolves a configured binary, reporting which one was missing.
func LookPath(bin string) (string, error) {
	if bin == "" {
		return "", fmt.Errorf("no binary configured")
	}
	p, err := exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("%s not found: %w", bin, err)
	}
	return p, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		tail := make([]byte, lw.limit)
		copy(tail, b[len(b)-lw.limit:])
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
