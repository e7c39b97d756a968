package transcript

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ubv/ubv-transcribe/internal/logging"
)

func seg(loc *time.Location, day, hour int, text string) Segment {
	start := time.Date(2024, 1, day, hour, 0, 0, 0, loc)
	return Segment{Start: start, End: start.Add(time.Hour), Text: text}
}

func TestAppendSegment_Idempotent(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	s := seg(time.UTC, 15, 14, "someone rang the bell")

	_, added, err := store.AppendSegment("Front Door", s)
	if err != nil || !added {
		t.Fatalf("first append: added=%v err=%v", added, err)
	}
	doc, added, err := store.AppendSegment("Front Door", s)
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if added {
		t.Error("second append should be a no-op")
	}
	if doc.Len() != 1 {
		t.Errorf("Len() = %d, want 1", doc.Len())
	}

	data, err := os.ReadFile(store.Path("Front Door", s.Start))
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	key := "Front Door_2024-01-15_14:00:00"
	if n := strings.Count(string(data), "<!-- CHUNK: "+key+" -->"); n != 1 {
		t.Errorf("key %q appears %d times, want 1", key, n)
	}
}

func TestAppendSegment_OutOfOrderIsSorted(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	for _, h := range []int{15, 9, 22, 0, 12} {
		if _, _, err := store.AppendSegment("Backyard", seg(time.UTC, 15, h, "hour")); err != nil {
			t.Fatalf("append hour %d: %v", h, err)
		}
	}

	doc, err := store.Load("Backyard", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{
		"Backyard_2024-01-15_00:00:00",
		"Backyard_2024-01-15_09:00:00",
		"Backyard_2024-01-15_12:00:00",
		"Backyard_2024-01-15_15:00:00",
		"Backyard_2024-01-15_22:00:00",
	}
	got := doc.Keys()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
}

func TestRender_Format(t *testing.T) {
	doc := NewDocument("Front Door", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	doc.Insert(seg(time.UTC, 15, 14, "  hello there \n"))

	want := "# 2024-01-15 - Front Door\n\n" +
		"Transcript for camera **Front Door** on 2024-01-15.\n\n" +
		"---\n\n" +
		"<!-- CHUNK: Front Door_2024-01-15_14:00:00 -->\n\n" +
		"## 14:00:00 - 15:00:00\n\n" +
		"hello there\n\n" +
		"---\n\n"
	if got := string(doc.Render()); got != want {
		t.Fatalf("Render() mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestParse_RoundTrip(t *testing.T) {
	loc, err := time.LoadLocation("US/Pacific")
	if err != nil {
		t.Skipf("timezone unavailable: %v", err)
	}
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, loc)
	doc := NewDocument("Gate_Cam", day)
	doc.Insert(seg(loc, 15, 23, "late night\n\nwith a paragraph\n---\nand a rule"))
	doc.Insert(seg(loc, 15, 1, ""))
	doc.Insert(seg(loc, 15, 8, "morning"))

	parsed, err := Parse(doc.Render(), "Gate_Cam", day, loc)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want, got := doc.Segments(), parsed.Segments()
	if len(got) != len(want) {
		t.Fatalf("parsed %d segments, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Key != want[i].Key || got[i].Text != want[i].Text ||
			!got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Errorf("segment %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if string(parsed.Render()) != string(doc.Render()) {
		t.Error("render of parsed document differs from original")
	}
}

func TestParse_MidnightWrap(t *testing.T) {
	doc := NewDocument("Front Door", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	doc.Insert(seg(time.UTC, 15, 23, "last hour"))

	parsed, err := Parse(doc.Render(), "Front Door", doc.Date, time.UTC)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	end := parsed.Segments()[0].End
	if want := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC); !end.Equal(want) {
		t.Errorf("End = %v, want %v", end, want)
	}
}

func TestLoad_MalformedDocument(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	path := store.Path("Front Door", day)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	content := "# 2024-01-15 - Front Door\n\n<!-- CHUNK: Front Door_2024-01-15_14:00:00 -->\n\nno heading here\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := store.Load("Front Door", day)
	var perr *PersistenceError
	if !errors.As(err, &perr) || perr.Op != "parse" {
		t.Fatalf("Load() error = %v, want parse PersistenceError", err)
	}
	if !errors.Is(err, ErrMalformedDocument) {
		t.Errorf("error should wrap ErrMalformedDocument: %v", err)
	}
}

func TestAppendSegment_WriteFailure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(root, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewStore(root, nil)

	_, _, err := store.AppendSegment("Front Door", seg(time.UTC, 15, 14, "text"))
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("AppendSegment() error = %v, want *PersistenceError", err)
	}
}

func TestAppendSegment_NoTempFilesLeft(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	s := seg(time.UTC, 15, 3, "text")
	if _, _, err := store.AppendSegment("Front Door", s); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Dir(store.Path("Front Door", s.Start)))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the document", len(entries))
	}
}

func TestAppendSegment_MarkerShapedText(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	texts := []string{
		"hello\n<!-- CHUNK: note -->\nbye",
		"<!-- CHUNK: Front Door_2024-01-15_09:00:00 -->",
		"before\n---\nafter",
		"already \\---\n\\<!-- CHUNK: x -->\n\\",
		"indented\n   <!-- comment -->\n\t---",
	}
	for i, text := range texts {
		if _, _, err := store.AppendSegment("Front Door", seg(time.UTC, 15, 5+i, text)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	// A later append has to parse everything written so far.
	if _, _, err := store.AppendSegment("Front Door", seg(time.UTC, 15, 20, "next")); err != nil {
		t.Fatalf("append after marker-shaped text: %v", err)
	}

	doc, err := store.Load("Front Door", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := doc.Segments()
	if len(got) != len(texts)+1 {
		t.Fatalf("Len() = %d, want %d; keys = %v", len(got), len(texts)+1, doc.Keys())
	}
	for i, text := range texts {
		if got[i].Text != text {
			t.Errorf("segment %d text = %q, want %q", i, got[i].Text, text)
		}
	}
	if got[len(texts)].Text != "next" {
		t.Errorf("last segment text = %q, want %q", got[len(texts)].Text, "next")
	}
}

func TestLoad_CameraMismatch(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	s := seg(time.UTC, 15, 14, "text")
	if store.Path("Front/Door", s.Start) != store.Path("Front:Door", s.Start) {
		t.Fatal("expected both names to share a document path")
	}
	if _, _, err := store.AppendSegment("Front/Door", s); err != nil {
		t.Fatal(err)
	}

	_, _, err := store.AppendSegment("Front:Door", seg(time.UTC, 15, 15, "other"))
	var perr *PersistenceError
	if !errors.As(err, &perr) || perr.Op != "parse" {
		t.Fatalf("AppendSegment() error = %v, want parse PersistenceError", err)
	}
	if !errors.Is(err, ErrCameraMismatch) {
		t.Errorf("error should wrap ErrCameraMismatch: %v", err)
	}

	doc, err := store.Load("Front/Door", s.Start)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Len() != 1 {
		t.Errorf("Len() = %d, want 1", doc.Len())
	}
}

func TestAppendSegment_RepeatedHourWarns(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("timezone unavailable: %v", err)
	}
	var buf bytes.Buffer
	store := NewStore(t.TempDir(), logging.NewLogger("debug", "text", &buf))

	first := time.Date(2024, 11, 3, 1, 0, 0, 0, loc) // EDT
	second := first.Add(time.Hour)                   // 01:00 EST
	if first.Format("15:04") != second.Format("15:04") {
		t.Fatalf("expected a repeated wall-clock hour, got %v and %v", first, second)
	}

	if _, added, err := store.AppendSegment("Front Door", Segment{Start: first, End: second, Text: "first"}); err != nil || !added {
		t.Fatalf("first append: added=%v err=%v", added, err)
	}
	doc, added, err := store.AppendSegment("Front Door", Segment{Start: second, End: second.Add(time.Hour), Text: "second"})
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if added {
		t.Error("repeated hour should not add a second segment")
	}
	if doc.Len() != 1 {
		t.Errorf("Len() = %d, want 1", doc.Len())
	}
	if !strings.Contains(buf.String(), "segment key already used by a different start instant") {
		t.Errorf("expected a warning for the repeated hour, log:\n%s", buf.String())
	}

	buf.Reset()
	if _, _, err := store.AppendSegment("Front Door", Segment{Start: first, End: second, Text: "first"}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "different start instant") {
		t.Errorf("exact duplicate should not warn, log:\n%s", buf.String())
	}
}
