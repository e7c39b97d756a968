// Package transcript maintains one Markdown document per camera and local
// day. Segments are keyed by camera and start time, kept in chronological
// order and merged idempotently.
package transcript

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	keyTimeLayout     = "2006-01-02_15:04:05"
	headingTimeLayout = "15:04:05"
	dateLayout        = "2006-01-02"

	markerPrefix = "<!-- CHUNK:"
	markerSuffix = "-->"
	separator    = "---"
)

// ErrMalformedDocument is returned when a persisted document cannot be parsed.
var ErrMalformedDocument = errors.New("malformed transcript document")

// ErrCameraMismatch is returned when a document's header names a different
// camera, which happens when two camera names map to the same file.
var ErrCameraMismatch = errors.New("transcript document belongs to another camera")

// Segment is the transcript of one chunk.
type Segment struct {
	Key   string
	Start time.Time
	End   time.Time
	Text  string
}

// SegmentKey returns the dedup key "Camera_YYYY-MM-DD_HH:MM:SS" for a segment
// starting at start, rendered in start's location.
func SegmentKey(camera string, start time.Time) string {
	return camera + "_" + start.Format(keyTimeLayout)
}

// Document is the in-memory form of one camera's daily transcript.
type Document struct {
	Camera string
	Date   time.Time // local midnight

	segments []Segment
	index    map[string]int
}

// NewDocument returns an empty document for camera on the local day of date.
func NewDocument(camera string, date time.Time) *Document {
	y, m, d := date.Date()
	return &Document{
		Camera: camera,
		Date:   time.Date(y, m, d, 0, 0, 0, 0, date.Location()),
		index:  make(map[string]int),
	}
}

// Has reports whether a segment with key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.index[key]
	return ok
}

// Segment returns the segment stored under key.
func (d *Document) Segment(key string) (Segment, bool) {
	i, ok := d.index[key]
	if !ok {
		return Segment{}, false
	}
	return d.segments[i], true
}

// Len returns the number of segments.
func (d *Document) Len() int { return len(d.segments) }

// Insert adds seg in chronological position. It returns false and leaves the
// document unchanged when the key already exists.
func (d *Document) Insert(seg Segment) bool {
	if seg.Key == "" {
		seg.Key = SegmentKey(d.Camera, seg.Start)
	}
	if d.Has(seg.Key) {
		return false
	}
	seg.Text = strings.TrimSpace(seg.Text)

	i := sort.Search(len(d.segments), func(i int) bool {
		return segmentLess(seg, d.segments[i])
	})
	d.segments = append(d.segments, Segment{})
	copy(d.segments[i+1:], d.segments[i:])
	d.segments[i] = seg
	d.reindex()
	return true
}

// Segments returns a copy of the segments in chronological order.
func (d *Document) Segments() []Segment {
	out := make([]Segment, len(d.segments))
	copy(out, d.segments)
	return out
}

// Keys returns the dedup keys in document order.
func (d *Document) Keys() []string {
	keys := make([]string, len(d.segments))
	for i, s := range d.segments {
		keys[i] = s.Key
	}
	return keys
}

// Render produces the persisted Markdown form.
func (d *Document) Render() []byte {
	var b bytes.Buffer
	date := d.Date.Format(dateLayout)
	fmt.Fprintf(&b, "# %s - %s\n\n", date, d.Camera)
	fmt.Fprintf(&b, "Transcript for camera **%s** on %s.\n\n", d.Camera, date)
	b.WriteString(separator + "\n\n")

	for _, s := range d.segments {
		fmt.Fprintf(&b, "%s %s %s\n\n", markerPrefix, s.Key, markerSuffix)
		fmt.Fprintf(&b, "## %s - %s\n\n", s.Start.Format(headingTimeLayout), s.End.Format(headingTimeLayout))
		b.WriteString(escapeBody(s.Text))
		b.WriteString("\n\n")
		b.WriteString(separator + "\n\n")
	}
	return b.Bytes()
}

// Parse reads a persisted document for camera. Segment instants are rebuilt
// in loc from each block's marker and heading; everything before the first
// marker is treated as header.
func Parse(data []byte, camera string, date time.Time, loc *time.Location) (*Document, error) {
	if loc == nil {
		loc = date.Location()
	}
	y, m, dd := date.Date()
	doc := NewDocument(camera, time.Date(y, m, dd, 0, 0, 0, 0, loc))

	var (
		cur     *Segment
		body    []string
		lineNo  int
		heading bool
	)
	flush := func() error {
		if cur == nil {
			return nil
		}
		if !heading {
			return fmt.Errorf("%w: chunk %s has no time heading", ErrMalformedDocument, cur.Key)
		}
		cur.Text = blockText(body)
		doc.Insert(*cur)
		cur, body, heading = nil, nil, false
		return nil
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, markerPrefix) && strings.HasSuffix(trimmed, markerSuffix) {
			if err := flush(); err != nil {
				return nil, err
			}
			key := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(trimmed, markerPrefix), markerSuffix))
			start, err := keyStart(key, loc)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedDocument, lineNo, err)
			}
			cur = &Segment{Key: key, Start: start}
			continue
		}
		if cur == nil {
			if owner, ok := headerCamera(trimmed); ok && owner != camera {
				return nil, fmt.Errorf("%w: header names %q, want %q", ErrCameraMismatch, owner, camera)
			}
			continue
		}
		if !heading {
			if trimmed == "" {
				continue
			}
			end, err := headingEnd(trimmed, cur.Start)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedDocument, lineNo, err)
			}
			cur.End = end
			heading = true
			continue
		}
		body = append(body, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return doc, nil
}

// headerCamera extracts the camera from a "# YYYY-MM-DD - Camera" title line.
func headerCamera(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "# ")
	if !ok || len(rest) < len(dateLayout) {
		return "", false
	}
	if _, err := time.Parse(dateLayout, rest[:len(dateLayout)]); err != nil {
		return "", false
	}
	name, ok := strings.CutPrefix(rest[len(dateLayout):], " - ")
	return name, ok
}

func (d *Document) reindex() {
	for i, s := range d.segments {
		d.index[s.Key] = i
	}
}

func segmentLess(a, b Segment) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	return a.Key < b.Key
}

// keyStart recovers the start instant from the "_YYYY-MM-DD_HH:MM:SS" suffix
// of a dedup key. Camera names may contain underscores, so only the suffix is
// inspected.
func keyStart(key string, loc *time.Location) (time.Time, error) {
	n := len(keyTimeLayout)
	if len(key) < n+2 || key[len(key)-n-1] != '_' {
		return time.Time{}, fmt.Errorf("chunk key %q has no timestamp", key)
	}
	t, err := time.ParseInLocation(keyTimeLayout, key[len(key)-n:], loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("chunk key %q: %w", key, err)
	}
	return t, nil
}

// headingEnd parses "## HH:MM:SS - HH:MM:SS" and returns the end instant on
// start's day, rolling into the next day when the end wraps past midnight.
func headingEnd(line string, start time.Time) (time.Time, error) {
	rest, ok := strings.CutPrefix(line, "## ")
	if !ok {
		return time.Time{}, fmt.Errorf("expected time heading, got %q", line)
	}
	_, endStr, ok := strings.Cut(rest, " - ")
	if !ok {
		return time.Time{}, fmt.Errorf("heading %q has no time range", line)
	}
	clock, err := time.Parse(headingTimeLayout, strings.TrimSpace(endStr))
	if err != nil {
		return time.Time{}, fmt.Errorf("heading %q: %w", line, err)
	}
	y, m, d := start.Date()
	end := time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), 0, start.Location())
	if !end.After(start) {
		end = time.Date(y, m, d+1, clock.Hour(), clock.Minute(), clock.Second(), 0, start.Location())
	}
	return end, nil
}

// blockText strips the trailing separator and surrounding blank lines from a
// segment body.
func blockText(lines []string) string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == separator {
		lines = lines[:len(lines)-1]
	}
	for i, line := range lines {
		lines[i] = unescapeLine(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Body lines that would read back as a chunk marker or a separator get one
// extra leading backslash, which Markdown also renders as a literal.
func escapeBody(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if needsEscape(line) {
			indent := len(line) - len(strings.TrimLeft(line, " \t"))
			lines[i] = line[:indent] + `\` + line[indent:]
		}
	}
	return strings.Join(lines, "\n")
}

func unescapeLine(line string) string {
	trimmed := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(trimmed, `\`) || !needsEscape(trimmed[1:]) {
		return line
	}
	indent := len(line) - len(trimmed)
	return line[:indent] + trimmed[1:]
}

// needsEscape matches lines that, after any leading backslashes, start a
// comment or equal the separator. Already-escaped lines match too, so the
// mapping stays reversible.
func needsEscape(line string) bool {
	bare := strings.TrimLeft(strings.TrimSpace(line), `\`)
	return strings.HasPrefix(bare, "<!--") || bare == separator
}
