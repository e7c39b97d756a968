package transcript

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ubv/ubv-transcribe/internal/logging"
	"github.com/ubv/ubv-transcribe/internal/paths"
)

// PersistenceError is a failure to read or write a transcript document.
type PersistenceError struct {
	Op   string // "read", "parse" or "write"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("transcript %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store reads and writes daily documents under a root directory laid out as
// YYYY/YYYY-MM-DD_Camera.md. Access must be sequential.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore creates a Store rooted at root.
func NewStore(root string, logger *slog.Logger) *Store {
	return &Store{
		root:   root,
		logger: logging.WithComponent(logging.OrDiscard(logger), "transcript"),
	}
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Path returns the document path for camera on the local day of day.
func (s *Store) Path(camera string, day time.Time) string {
	return paths.TranscriptPath(s.root, camera, day)
}

// Load returns the document for camera on day's local date, or an empty
// document when none has been written yet.
func (s *Store) Load(camera string, day time.Time) (*Document, error) {
	path := s.Path(camera, day)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewDocument(camera, day), nil
		}
		return nil, &PersistenceError{Op: "read", Path: path, Err: err}
	}

	doc, err := Parse(data, camera, day, day.Location())
	if err != nil {
		return nil, &PersistenceError{Op: "parse", Path: path, Err: err}
	}
	return doc, nil
}

// AppendSegment merges seg into the camera's document for the local day of
// seg.Start. It reports whether the segment was added; an existing key is a
// no-op and the file is left untouched.
func (s *Store) AppendSegment(camera string, seg Segment) (*Document, bool, error) {
	if seg.Key == "" {
		seg.Key = SegmentKey(camera, seg.Start)
	}

	doc, err := s.Load(camera, seg.Start)
	if err != nil {
		return nil, false, err
	}
	if !doc.Insert(seg) {
		// A repeated wall-clock hour on a fall-back day renders the same key
		// for a different instant; only the first one is kept.
		if stored, ok := doc.Segment(seg.Key); ok && !stored.Start.Equal(seg.Start) {
			s.logger.Warn("segment key already used by a different start instant",
				"key", seg.Key,
				"stored_start", stored.Start.Format(time.RFC3339),
				"start", seg.Start.Format(time.RFC3339),
			)
			return doc, false, nil
		}
		s.logger.Debug("segment already merged", "key", seg.Key)
		return doc, false, nil
	}

	path := s.Path(camera, seg.Start)
	if err := writeFileAtomic(path, doc.Render()); err != nil {
		return nil, false, &PersistenceError{Op: "write", Path: path, Err: err}
	}

	s.logger.Info("merged segment",
		"key", seg.Key,
		"segments", doc.Len(),
		"path", logging.SanitizePath(path),
	)
	return doc, true, nil
}

// writeFileAtomic writes data to a temp file in dest's directory and renames
// it over dest, so a crash never leaves a truncated document behind.
func writeFileAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		cleanup()
		return err
	}
	return nil
}
