package proc

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type versionRunner struct {
	out  map[string]Result
	fail map[string]error
	ran  []string
}

func (r *versionRunner) Run(_ context.Context, name string, args ...string) (Result, error) {
	r.ran = append(r.ran, name)
	if err := r.fail[name]; err != nil {
		return Result{Command: name, ExitCode: 1}, err
	}
	return r.out[name], nil
}

func fakeLookPath(installed ...string) func(string) (string, error) {
	set := map[string]bool{}
	for _, b := range installed {
		set[b] = true
	}
	return func(bin string) (string, error) {
		if !set[bin] {
			return "", fmt.Errorf("%s not found", bin)
		}
		return "/usr/bin/" + bin, nil
	}
}

func TestDoctor_AllAvailable(t *testing.T) {
	runner := &versionRunner{out: map[string]Result{
		"/usr/bin/ffmpeg": {Stdout: "ffmpeg version 6.1.1 Copyright (c)\nbuilt with gcc\n"},
	}}
	d := NewDoctor(runner, nil)
	d.lookPath = fakeLookPath("ffmpeg", "whisper-cli")

	report, err := d.Probe(context.Background(),
		Tool{Name: "ffmpeg", Binary: "ffmpeg", VersionArgs: []string{"-version"}, Required: true},
		Tool{Name: "whisper", Binary: "whisper-cli", Required: true},
	)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if len(report.Tools) != 2 {
		t.Fatalf("len(Tools) = %d, want 2", len(report.Tools))
	}
	if got := report.Tools[0].Version; got != "ffmpeg version 6.1.1 Copyright (c)" {
		t.Errorf("ffmpeg version = %q", got)
	}
	if len(runner.ran) != 1 {
		t.Errorf("ran = %v, whisper has no version probe", runner.ran)
	}
	if len(report.Missing()) != 0 {
		t.Errorf("Missing() = %v, want none", report.Missing())
	}
}

func TestDoctor_MissingRequiredTool(t *testing.T) {
	d := NewDoctor(&versionRunner{}, nil)
	d.lookPath = fakeLookPath()

	report, err := d.Probe(context.Background(),
		Tool{Name: "ffmpeg", Binary: "ffmpeg", VersionArgs: []string{"-version"}, Required: true},
		Tool{Name: "optional", Binary: "extra"},
	)
	if !errors.Is(err, ErrToolMissing) {
		t.Fatalf("Probe() error = %v, want ErrToolMissing", err)
	}
	if got := report.Missing(); len(got) != 1 || got[0] != "ffmpeg" {
		t.Errorf("Missing() = %v, want [ffmpeg]", got)
	}
	if report.Tools[0].Error == "" {
		t.Error("missing tool should carry an error message")
	}
}

func TestDoctor_VersionProbeFailure(t *testing.T) {
	runner := &versionRunner{fail: map[string]error{"/usr/bin/ffmpeg": errors.New("exec format error")}}
	d := NewDoctor(runner, nil)
	d.lookPath = fakeLookPath("ffmpeg")

	report, err := d.Probe(context.Background(),
		Tool{Name: "ffmpeg", Binary: "ffmpeg", VersionArgs: []string{"-version"}, Required: true})
	if !errors.Is(err, ErrToolMissing) {
		t.Fatalf("Probe() error = %v, want ErrToolMissing", err)
	}
	if report.Tools[0].Available {
		t.Error("tool whose version probe fails should be unavailable")
	}
}

func TestFirstLine(t *testing.T) {
	for in, want := range map[string]string{
		"":                   "",
		"  one line  ":       "one line",
		"\nfirst\nsecond\n":  "first",
		"v1.7.2\r\nmore\r\n": "v1.7.2",
	} {
		if got := firstLine(in); got != want {
			t.Errorf("firstLine(%q) = %q, want %q", in, got, want)
		}
	}
}
