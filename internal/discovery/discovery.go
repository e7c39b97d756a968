// Package discovery finds how far back recorded footage goes, walking one
// local day at a time from today towards the past.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ubv/ubv-transcribe/internal/chunk"
	"github.com/ubv/ubv-transcribe/internal/logging"
	"github.com/ubv/ubv-transcribe/internal/retry"
)

// DefaultMaxDaysBack bounds the walk when footage never runs out.
const DefaultMaxDaysBack = 365

// Prober answers whether a camera has footage on a local calendar day.
type Prober interface {
	HasFootage(ctx context.Context, camera chunk.Camera, day time.Time) (bool, error)
}

// FootageRange is one camera's discovered availability. Earliest and Latest
// are local midnights; both are zero when no footage was found.
type FootageRange struct {
	Camera   chunk.Camera
	Earliest time.Time
	Latest   time.Time
	Days     int // days on which footage was found
}

// Found reports whether any footage was seen for the camera.
func (r FootageRange) Found() bool { return r.Days > 0 }

func (r *FootageRange) extend(day time.Time) {
	if r.Latest.IsZero() || day.After(r.Latest) {
		r.Latest = day
	}
	if r.Earliest.IsZero() || day.Before(r.Earliest) {
		r.Earliest = day
	}
	r.Days++
}

// Result aggregates discovery across cameras.
type Result struct {
	Ranges   []FootageRange
	Earliest time.Time
	Latest   time.Time
	// Days is the calendar span from Earliest to Latest inclusive.
	Days int
	// StoppedAt is the first day on which no camera had footage, or the last
	// probed day when MaxDaysBack was reached.
	StoppedAt time.Time
	// Truncated is set when the walk hit MaxDaysBack before footage ran out.
	Truncated bool
}

// Config configures a Discoverer.
type Config struct {
	Prober      Prober
	Retrier     *retry.Retrier
	Location    *time.Location
	MaxDaysBack int
	Now         func() time.Time
	Logger      *slog.Logger
}

// Discoverer walks footage history.
type Discoverer struct {
	cfg    Config
	logger *slog.Logger
}

// New returns a Discoverer with defaults filled in.
func New(cfg Config) (*Discoverer, error) {
	if cfg.Prober == nil {
		return nil, errors.New("discovery: prober is required")
	}
	if cfg.Retrier == nil {
		cfg.Retrier = retry.New(retry.Policy{MaxAttempts: 1})
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxDaysBack <= 0 {
		cfg.MaxDaysBack = DefaultMaxDaysBack
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Discoverer{
		cfg:    cfg,
		logger: logging.WithComponent(logging.OrDiscard(cfg.Logger), "discovery"),
	}, nil
}

// Discover probes every camera for today, then yesterday, and so on, until a
// day where no camera has footage. A probe that fails fatally, or keeps
// failing after retries, aborts the whole discovery.
func (d *Discoverer) Discover(ctx context.Context, cameras []chunk.Camera) (*Result, error) {
	if len(cameras) == 0 {
		return nil, errors.New("discovery: no cameras to probe")
	}

	res := &Result{Ranges: make([]FootageRange, len(cameras))}
	for i, cam := range cameras {
		res.Ranges[i].Camera = cam
	}

	day := chunk.StartOfDay(d.cfg.Now().In(d.cfg.Location))
	for probed := 0; ; probed++ {
		if probed == d.cfg.MaxDaysBack {
			res.Truncated = true
			d.logger.Warn("reached discovery limit", "max_days_back", d.cfg.MaxDaysBack)
			break
		}

		found := 0
		for i := range res.Ranges {
			r := &res.Ranges[i]
			ok, err := retry.Execute(ctx, d.cfg.Retrier, func(ctx context.Context) (bool, error) {
				return d.cfg.Prober.HasFootage(ctx, r.Camera, day)
			})
			if err != nil {
				return nil, fmt.Errorf("probe %s on %s: %w", r.Camera.Name, day.Format(chunk.DateLayout), err)
			}
			if ok {
				r.extend(day)
				found++
			}
		}

		d.logger.Debug("probed day", "date", day.Format(chunk.DateLayout), "cameras_with_footage", found)
		if found == 0 {
			break
		}
		day = day.AddDate(0, 0, -1)
	}

	res.StoppedAt = day
	if res.Truncated {
		res.StoppedAt = day.AddDate(0, 0, 1)
	}
	res.aggregate()

	d.logger.Info("discovery complete",
		"earliest", formatDay(res.Earliest),
		"latest", formatDay(res.Latest),
		"days", res.Days,
		"stopped_at", res.StoppedAt.Format(chunk.DateLayout),
	)
	return res, nil
}

func (r *Result) aggregate() {
	for _, fr := range r.Ranges {
		if !fr.Found() {
			continue
		}
		if r.Earliest.IsZero() || fr.Earliest.Before(r.Earliest) {
			r.Earliest = fr.Earliest
		}
		if r.Latest.IsZero() || fr.Latest.After(r.Latest) {
			r.Latest = fr.Latest
		}
	}
	if !r.Earliest.IsZero() {
		r.Days = len(chunk.Days(r.Earliest, r.Latest))
	}
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(chunk.DateLayout)
}
