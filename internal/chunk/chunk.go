// Package chunk partitions a date range into hourly per-camera work units.
package chunk

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the calendar date layout accepted on the command line.
const DateLayout = "2006-01-02"

// ErrInvalidRange is returned when a date range is malformed or inverted.
var ErrInvalidRange = errors.New("invalid date range")

// Camera identifies one camera on the video-management API.
type Camera struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	RecordingStart time.Time `json:"recording_start"`
}

// WorkUnit is one camera's one-hour footage interval.
type WorkUnit struct {
	CameraID   string
	CameraName string
	Start      time.Time
	End        time.Time
}

// Day returns local midnight of the day the unit starts in.
func (u WorkUnit) Day() time.Time {
	return StartOfDay(u.Start)
}

func (u WorkUnit) String() string {
	return fmt.Sprintf("%s %s-%s", u.CameraName, u.Start.Format("2006-01-02 15:04"), u.End.Format("15:04"))
}

// ParseDate parses a YYYY-MM-DD date as local midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a YYYY-MM-DD date", ErrInvalidRange, s)
	}
	return d, nil
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Partition produces the ordered work units for every camera, every calendar
// day in [startDate, endDate] (inclusive) and every hour of that local day.
// Only the calendar date of startDate and endDate is used. Hour boundaries are
// laid out in loc and stepped in absolute time, so a day with a DST transition
// yields 23 or 25 units and consecutive units always tile without gaps.
func Partition(startDate, endDate time.Time, loc *time.Location, cameras []Camera) ([]WorkUnit, error) {
	if loc == nil {
		return nil, fmt.Errorf("%w: timezone is required", ErrInvalidRange)
	}
	if startDate.IsZero() || endDate.IsZero() {
		return nil, fmt.Errorf("%w: start and end dates are required", ErrInvalidRange)
	}

	first := civilMidnight(startDate, loc)
	last := civilMidnight(endDate, loc)
	if last.Before(first) {
		return nil, fmt.Errorf("%w: end date %s precedes start date %s",
			ErrInvalidRange, last.Format(DateLayout), first.Format(DateLayout))
	}

	days := Days(first, last)
	units := make([]WorkUnit, 0, len(cameras)*len(days)*24)
	for _, cam := range cameras {
		for _, day := range days {
			next := day.AddDate(0, 0, 1)
			for start := day; start.Before(next); start = start.Add(time.Hour) {
				units = append(units, WorkUnit{
					CameraID:   cam.ID,
					CameraName: cam.Name,
					Start:      start,
					End:        start.Add(time.Hour),
				})
			}
		}
	}
	return units, nil
}

// Days lists local midnights from first through last inclusive.
func Days(first, last time.Time) []time.Time {
	var days []time.Time
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// civilMidnight keeps t's calendar date but re-anchors it at midnight in loc.
func civilMidnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
