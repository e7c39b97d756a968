package proc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ubv/ubv-transcribe/internal/logging"
)

// ErrToolMissing is returned by Probe when a required tool is unusable.
var ErrToolMissing = errors.New("required tool unavailable")

// Tool describes an external binary to check before a run.
type Tool struct {
	Name        string
	Binary      string
	VersionArgs []string // nil skips the version probe
	Required    bool
}

// ToolStatus is the probe outcome for one tool.
type ToolStatus struct {
	Name      string
	Path      string
	Version   string
	Available bool
	Required  bool
	Error     string
}

// Report is the result of one Probe.
type Report struct {
	Tools    []ToolStatus
	ProbedAt time.Time
}

// Missing lists the required tools that are unavailable.
func (r Report) Missing() []string {
	var out []string
	for _, t := range r.Tools {
		if t.Required && !t.Available {
			out = append(out, t.Name)
		}
	}
	return out
}

// Doctor checks that the external tools a run depends on are installed, so a
// missing ffmpeg fails the run up front instead of failing every unit.
type Doctor struct {
	runner   Runner
	lookPath func(string) (string, error)
	logger   *slog.Logger
}

// NewDoctor creates a Doctor that runs version probes through runner.
func NewDoctor(runner Runner, logger *slog.Logger) *Doctor {
	logger = logging.WithComponent(logging.OrDiscard(logger), "doctor")
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	return &Doctor{runner: runner, lookPath: LookPath, logger: logger}
}

// Probe checks every tool. The report is always returned; the error wraps
// ErrToolMissing when a required tool is unusable.
func (d *Doctor) Probe(ctx context.Context, tools ...Tool) (Report, error) {
	report := Report{ProbedAt: time.Now()}
	for _, tool := range tools {
		st := d.probe(ctx, tool)
		report.Tools = append(report.Tools, st)
		if st.Available {
			d.logger.Debug("tool available", "tool", st.Name, "path", st.Path, "version", st.Version)
		} else {
			d.logger.Warn("tool unavailable", "tool", st.Name, "required", st.Required, "error", st.Error)
		}
	}

	if missing := report.Missing(); len(missing) > 0 {
		return report, fmt.Errorf("%w: %s", ErrToolMissing, strings.Join(missing, ", "))
	}
	return report, nil
}

func (d *Doctor) probe(ctx context.Context, tool Tool) ToolStatus {
	st := ToolStatus{Name: tool.Name, Required: tool.Required}

	path, err := d.lookPath(tool.Binary)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Path = path

	if tool.VersionArgs != nil {
		res, err := d.runner.Run(ctx, path, tool.VersionArgs...)
		if err != nil {
			st.Error = err.Error()
			return st
		}
		st.Version = firstLine(res.Stdout)
		if st.Version == "" {
			st.Version = firstLine(res.StderrTail)
		}
	}
	st.Available = true
	return st
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
