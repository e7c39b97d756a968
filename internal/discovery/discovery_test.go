package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubv/ubv-transcribe/internal/chunk"
	"github.com/ubv/ubv-transcribe/internal/protect"
	"github.com/ubv/ubv-transcribe/internal/retry"
)

// fakeProber reports footage for each camera from its first day through today.
type fakeProber struct {
	since map[string]time.Time
	errs  map[string][]error // consumed per call, per camera
	calls map[string]int
}

func (f *fakeProber) HasFootage(_ context.Context, camera chunk.Camera, day time.Time) (bool, error) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[camera.ID]++
	if errs := f.errs[camera.ID]; len(errs) > 0 {
		f.errs[camera.ID] = errs[1:]
		return false, errs[0]
	}
	first, ok := f.since[camera.ID]
	if !ok {
		return false, protect.ErrCameraNotFound
	}
	return !day.Before(first), nil
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := chunk.ParseDate(s, time.UTC)
	require.NoError(t, err)
	return d
}

func newDiscoverer(t *testing.T, p Prober, today string, mutate func(*Config)) *Discoverer {
	t.Helper()
	now := date(t, today).Add(15 * time.Hour)
	cfg := Config{
		Prober: p,
		Retrier: retry.New(retry.DefaultPolicy(protect.Classify),
			retry.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })),
		Location: time.UTC,
		Now:      func() time.Time { return now },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := New(cfg)
	require.NoError(t, err)
	return d
}

func TestDiscover_StopsAtFirstEmptyDay(t *testing.T) {
	p := &fakeProber{since: map[string]time.Time{"c1": date(t, "2026-01-02")}}
	d := newDiscoverer(t, p, "2026-01-15", nil)

	res, err := d.Discover(context.Background(), []chunk.Camera{{ID: "c1", Name: "Front Door"}})
	require.NoError(t, err)

	assert.Equal(t, date(t, "2026-01-02"), res.Earliest)
	assert.Equal(t, date(t, "2026-01-15"), res.Latest)
	assert.Equal(t, 14, res.Days)
	assert.Equal(t, date(t, "2026-01-01"), res.StoppedAt)
	assert.False(t, res.Truncated)
	assert.Equal(t, 15, p.calls["c1"], "14 days with footage plus the empty one")

	require.Len(t, res.Ranges, 1)
	assert.Equal(t, 14, res.Ranges[0].Days)
}

func TestDiscover_StopsOnlyWhenAllCamerasAreEmpty(t *testing.T) {
	p := &fakeProber{since: map[string]time.Time{
		"c1": date(t, "2026-01-12"),
		"c2": date(t, "2026-01-05"),
	}}
	d := newDiscoverer(t, p, "2026-01-15", nil)

	res, err := d.Discover(context.Background(), []chunk.Camera{
		{ID: "c1", Name: "Front Door"},
		{ID: "c2", Name: "Backyard"},
	})
	require.NoError(t, err)

	front, back := res.Ranges[0], res.Ranges[1]
	assert.Equal(t, date(t, "2026-01-12"), front.Earliest)
	assert.Equal(t, 4, front.Days)
	assert.Equal(t, date(t, "2026-01-05"), back.Earliest)
	assert.Equal(t, 11, back.Days)

	assert.Equal(t, date(t, "2026-01-05"), res.Earliest)
	assert.Equal(t, 11, res.Days)
	assert.Equal(t, date(t, "2026-01-04"), res.StoppedAt)
}

func TestDiscover_NoFootageToday(t *testing.T) {
	p := &fakeProber{since: map[string]time.Time{"c1": date(t, "2026-02-01")}}
	d := newDiscoverer(t, p, "2026-01-15", nil)

	res, err := d.Discover(context.Background(), []chunk.Camera{{ID: "c1", Name: "Garage"}})
	require.NoError(t, err)
	assert.True(t, res.Earliest.IsZero())
	assert.Zero(t, res.Days)
	assert.False(t, res.Ranges[0].Found())
	assert.Equal(t, date(t, "2026-01-15"), res.StoppedAt)
}

func TestDiscover_RetriesTransientProbeFailures(t *testing.T) {
	p := &fakeProber{
		since: map[string]time.Time{"c1": date(t, "2026-01-14")},
		errs:  map[string][]error{"c1": {protect.ErrTransient, &protect.APIError{Op: "cameras", StatusCode: 429}}},
	}
	d := newDiscoverer(t, p, "2026-01-15", nil)

	res, err := d.Discover(context.Background(), []chunk.Camera{{ID: "c1", Name: "Garage"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Days)
	assert.Equal(t, 5, p.calls["c1"])
}

func TestDiscover_FatalProbeErrorAborts(t *testing.T) {
	p := &fakeProber{since: map[string]time.Time{"c1": date(t, "2026-01-01")}}
	d := newDiscoverer(t, p, "2026-01-15", nil)

	_, err := d.Discover(context.Background(), []chunk.Camera{
		{ID: "c1", Name: "Front Door"},
		{ID: "gone", Name: "Removed"},
	})
	require.ErrorIs(t, err, protect.ErrCameraNotFound)
	assert.Equal(t, 1, p.calls["gone"], "fatal errors are not retried")
}

func TestDiscover_ExhaustedProbeAborts(t *testing.T) {
	p := &fakeProber{
		since: map[string]time.Time{"c1": date(t, "2026-01-01")},
		errs:  map[string][]error{"c1": {protect.ErrTransient, protect.ErrTransient, protect.ErrTransient}},
	}
	d := newDiscoverer(t, p, "2026-01-15", func(c *Config) {
		c.Retrier = retry.New(retry.Policy{MaxAttempts: 2, Classify: protect.Classify},
			retry.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	})

	_, err := d.Discover(context.Background(), []chunk.Camera{{ID: "c1", Name: "Garage"}})
	var exhausted *retry.ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 2, exhausted.Attempts)
}

func TestDiscover_MaxDaysBack(t *testing.T) {
	p := &fakeProber{since: map[string]time.Time{"c1": date(t, "2020-01-01")}}
	d := newDiscoverer(t, p, "2026-01-15", func(c *Config) { c.MaxDaysBack = 10 })

	res, err := d.Discover(context.Background(), []chunk.Camera{{ID: "c1", Name: "Garage"}})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, 10, res.Days)
	assert.Equal(t, date(t, "2026-01-06"), res.Earliest)
	assert.Equal(t, date(t, "2026-01-06"), res.StoppedAt)
	assert.Equal(t, 10, p.calls["c1"])
}

func TestDiscover_UsesLocalToday(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("timezone unavailable: %v", err)
	}
	p := &fakeProber{since: map[string]time.Time{"c1": time.Date(2026, 1, 16, 0, 0, 0, 0, loc)}}
	// 20:00 UTC on the 15th is already the 16th in Tokyo.
	now := time.Date(2026, 1, 15, 20, 0, 0, 0, time.UTC)
	d := newDiscoverer(t, p, "2026-01-15", func(c *Config) {
		c.Location = loc
		c.Now = func() time.Time { return now }
	})

	res, err := d.Discover(context.Background(), []chunk.Camera{{ID: "c1", Name: "Garage"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Days)
	assert.Equal(t, time.Date(2026, 1, 16, 0, 0, 0, 0, loc), res.Latest)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, loc), res.StoppedAt)
}

func TestNew_RequiresProber(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
