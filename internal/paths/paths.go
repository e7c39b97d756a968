// Package paths holds the on-disk naming conventions for downloaded video
// artifacts and daily transcript documents.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

const (
	// MaxNameLength bounds the camera portion of generated file names.
	MaxNameLength = 100

	videoTimeLayout = "2006-01-02 - 15.04.05-0700"
	dayLayout       = "2006-01-02"
)

// SafeCameraName makes a camera display name usable as a file name component.
// Control characters are dropped and anything outside letters, digits and
// " -_.,()" becomes an underscore.
func SafeCameraName(name string) string {
	cleaned := sanitizeName(name, MaxNameLength)
	cleaned = strings.Trim(cleaned, ". ")
	if cleaned == "" {
		return "camera"
	}
	return cleaned
}

func sanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}

// VideoFileName returns "Camera - YYYY-MM-DD - HH.MM.SS+ZZZZ.mp4" for a chunk
// starting at start, rendered in start's location.
func VideoFileName(cameraName string, start time.Time) string {
	return fmt.Sprintf("%s - %s.mp4", SafeCameraName(cameraName), start.Format(videoTimeLayout))
}

// VideoPath joins dir and VideoFileName.
func VideoPath(dir, cameraName string, start time.Time) string {
	return filepath.Join(dir, VideoFileName(cameraName, start))
}

// TranscriptRelPath returns "YYYY/YYYY-MM-DD_Camera.md" for the local calendar
// day of day.
func TranscriptRelPath(cameraName string, day time.Time) string {
	date := day.Format(dayLayout)
	return filepath.Join(day.Format("2006"), date+"_"+SafeCameraName(cameraName)+".md")
}

// TranscriptPath joins root and TranscriptRelPath.
func TranscriptPath(root, cameraName string, day time.Time) string {
	return filepath.Join(root, TranscriptRelPath(cameraName, day))
}

// EnsureDir validates a user-supplied output directory and creates it when
// missing. Relative paths are allowed; ".." components are not.
func EnsureDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("output directory is required")
	}

	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return fmt.Errorf("output directory %q cannot contain path traversal", dir)
		}
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			return nil
		}
		return fmt.Errorf("invalid output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output directory %q is not a directory", dir)
	}

	return nil
}
