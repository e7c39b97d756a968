package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ubv/ubv-transcribe/internal/chunk"
	"github.com/ubv/ubv-transcribe/internal/discovery"
	"github.com/ubv/ubv-transcribe/internal/ledger"
	"github.com/ubv/ubv-transcribe/internal/scheduler"
)

const (
	colorPrimary = "#7D56F4"
	colorSuccess = "#04B575"
	colorError   = "#FF5F5F"
	colorMuted   = "#626262"
	colorBorder  = "#874BFD"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorPrimary))

	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(colorSuccess))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorError))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted))
	labelStyle = lipgloss.NewStyle().Width(20)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorBorder)).
			Padding(0, 2)
)

func row(label string, value any) string {
	return labelStyle.Render(label) + fmt.Sprint(value)
}

// renderSummary prints the end-of-run report. Failed units are always listed;
// verbose adds their error text.
func renderSummary(w io.Writer, sum scheduler.Summary, verbose bool) {
	rate := fmt.Sprintf("%.1f%%", sum.SuccessRate())
	if sum.Failed == 0 {
		rate = okStyle.Render(rate)
	} else {
		rate = errorStyle.Render(rate)
	}

	lines := []string{
		titleStyle.Render("Download summary"),
		"",
		row("Units attempted", sum.Attempted),
		row("Succeeded", okStyle.Render(fmt.Sprint(sum.Succeeded))),
		row("Failed", failedCount(sum.Failed)),
		row("Success rate", rate),
		row("Duplicates skipped", sum.Duplicates),
	}
	if skipped := sum.Skipped(); skipped > 0 {
		lines = append(lines, row("Not started", skipped))
	}
	if len(sum.FailedByStage) > 0 {
		stages := make([]string, 0, len(sum.FailedByStage))
		for stage, n := range sum.FailedByStage {
			stages = append(stages, fmt.Sprintf("%s=%d", stage, n))
		}
		sort.Strings(stages)
		lines = append(lines, row("Failures by stage", strings.Join(stages, " ")))
	}
	lines = append(lines, row("Elapsed", sum.Elapsed.Round(time.Second)))

	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))

	var failed []string
	for _, res := range sum.Results {
		if res.Succeeded() {
			continue
		}
		line := fmt.Sprintf("  %s  %s", errorStyle.Render(string(res.FailedStage)), res.Unit)
		if verbose && res.Err != nil {
			line += mutedStyle.Render("  " + res.Err.Error())
		}
		failed = append(failed, line)
	}
	if len(failed) > 0 {
		fmt.Fprintln(w, titleStyle.Render("Failed units"))
		fmt.Fprintln(w, strings.Join(failed, "\n"))
	}
}

func failedCount(n int) string {
	if n == 0 {
		return okStyle.Render("0")
	}
	return errorStyle.Render(fmt.Sprint(n))
}

func renderDiscovery(w io.Writer, res *discovery.Result) {
	lines := []string{titleStyle.Render("Footage discovery"), ""}
	if res.Days == 0 {
		lines = append(lines, errorStyle.Render("No footage found."))
	} else {
		lines = append(lines,
			row("Earliest", res.Earliest.Format(chunk.DateLayout)),
			row("Latest", res.Latest.Format(chunk.DateLayout)),
			row("Days", res.Days),
		)
	}
	lines = append(lines, row("Stopped at", res.StoppedAt.Format(chunk.DateLayout)))
	if res.Truncated {
		lines = append(lines, mutedStyle.Render("Probe limit reached; older footage may exist."))
	}

	lines = append(lines, "")
	for _, r := range res.Ranges {
		span := mutedStyle.Render("no footage")
		if r.Found() {
			span = fmt.Sprintf("%s .. %s (%d days)",
				r.Earliest.Format(chunk.DateLayout), r.Latest.Format(chunk.DateLayout), r.Days)
		}
		lines = append(lines, row(r.Camera.Name, span))
	}

	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
	if res.Days > 0 {
		fmt.Fprintf(w, "\n--start-date %s --end-date %s\n",
			res.Earliest.Format(chunk.DateLayout), res.Latest.Format(chunk.DateLayout))
	}
}

func renderHistory(w io.Writer, runs []*ledger.Run, failures map[string][]*ledger.ChunkRecord, verbose bool) {
	if len(runs) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No runs recorded yet."))
		return
	}
	fmt.Fprintln(w, titleStyle.Render("Recent runs"))
	for _, r := range runs {
		status := r.Status
		switch r.Status {
		case ledger.RunStatusCompleted:
			status = okStyle.Render(status)
		case ledger.RunStatusFailed, ledger.RunStatusInterrupted:
			status = errorStyle.Render(status)
		}
		span := r.StartDate
		if r.EndDate != "" && r.EndDate != r.StartDate {
			span += ".." + r.EndDate
		}
		fmt.Fprintf(w, "%s  %-8s  %-11s  %s  ok=%d failed=%d dup=%d\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Kind, status, span,
			r.Counts.Succeeded, r.Counts.Failed, r.Counts.Duplicates,
		)
		if verbose && r.Error != "" {
			fmt.Fprintln(w, mutedStyle.Render("    "+r.Error))
		}
		for _, rec := range failures[r.ID] {
			line := fmt.Sprintf("    %s %s %s", rec.Stage, rec.CameraName, rec.Start.Local().Format("2006-01-02 15:04"))
			if verbose && rec.Error != "" {
				line += "  " + rec.Error
			}
			fmt.Fprintln(w, mutedStyle.Render(line))
		}
	}
}
