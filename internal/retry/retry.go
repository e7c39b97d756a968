// Package retry implements a bounded retry/backoff controller for single
// fallible operations. It knows nothing about the operations it wraps: a
// Policy's classifier decides whether a failure is retried, retried after a
// rate-limit cooldown, or returned immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/ubv/ubv-transcribe/internal/logging"
)

// Class is the retry disposition of a failure.
type Class int

const (
	// Fatal failures are returned without further attempts.
	Fatal Class = iota
	// Retryable failures wait the standard exponential delay.
	Retryable
	// RateLimited failures wait the longer rate-limit cooldown.
	RateLimited
)

func (c Class) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case RateLimited:
		return "rate_limited"
	default:
		return "fatal"
	}
}

// Classifier maps an error to its retry disposition.
type Classifier func(error) Class

// Policy configures a Retrier.
type Policy struct {
	MaxAttempts     int           // total attempts including the first; < 1 means 1
	BaseDelay       time.Duration // delay before the second attempt
	Multiplier      float64       // growth per attempt; < 1 means 2
	MaxDelay        time.Duration // cap applied before jitter; 0 means uncapped
	RateLimitFactor float64       // cooldown multiple for rate-limit failures; < 1 means 1
	Jitter          time.Duration // random extra delay in [0, Jitter]
	Classify        Classifier    // nil treats every error as Retryable
}

// DefaultPolicy mirrors the downloader defaults: six attempts starting at one
// second, doubling up to five minutes, with a doubled cooldown when rate limited.
func DefaultPolicy(classify Classifier) Policy {
	return Policy{
		MaxAttempts:     6,
		BaseDelay:       time.Second,
		Multiplier:      2,
		MaxDelay:        5 * time.Minute,
		RateLimitFactor: 2,
		Jitter:          250 * time.Millisecond,
		Classify:        classify,
	}
}

// Delay returns the wait before the attempt following attempt (1-based),
// excluding jitter.
func (p Policy) Delay(attempt int, class Class) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if class == RateLimited {
		factor := p.RateLimitFactor
		if factor < 1 {
			factor = 1
		}
		d *= factor
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) classify(err error) Class {
	if p.Classify == nil {
		return Retryable
	}
	return p.Classify(err)
}

// ExhaustedError is the terminal failure after the attempt budget ran out.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap exposes the last underlying error for errors.Is / errors.As.
func (e *ExhaustedError) Unwrap() error { return e.Err }

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Retrier runs operations under a Policy.
type Retrier struct {
	policy Policy
	sleep  Sleeper
	jitter func(max time.Duration) time.Duration
	logger *slog.Logger
}

// Option customises a Retrier.
type Option func(*Retrier)

// WithSleeper replaces the wait function, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(r *Retrier) { r.sleep = s }
}

// WithJitter replaces the jitter source, mainly for tests.
func WithJitter(fn func(max time.Duration) time.Duration) Option {
	return func(r *Retrier) { r.jitter = fn }
}

// WithLogger sets the logger used to report retries.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retrier) { r.logger = logger }
}

// New creates a Retrier for policy.
func New(policy Policy, opts ...Option) *Retrier {
	r := &Retrier{
		policy: policy,
		sleep:  sleepContext,
		jitter: randomJitter,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDiscard(r.logger)
	return r
}

// Policy returns the retrier's policy.
func (r *Retrier) Policy() Policy { return r.policy }

// Operation is one attempt of a fallible action.
type Operation[T any] func(ctx context.Context) (T, error)

// Execute runs op until it succeeds, fails fatally, or the attempt budget is
// exhausted. Fatal errors are returned unchanged; exhaustion is reported as an
// *ExhaustedError wrapping the last error. A cancelled ctx during a wait
// returns the last error joined with ctx.Err().
func Execute[T any](ctx context.Context, r *Retrier, op Operation[T]) (T, error) {
	var zero T
	max := r.policy.attempts()

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		class := r.policy.classify(err)
		if class == Fatal {
			return zero, err
		}
		if attempt == max {
			break
		}

		wait := r.policy.Delay(attempt, class)
		if r.policy.Jitter > 0 && r.jitter != nil {
			wait += r.jitter(r.policy.Jitter)
		}
		r.logger.Warn("operation failed, retrying",
			"attempt", attempt,
			"max_attempts", max,
			"class", class.String(),
			"wait", wait,
			"error", err,
		)
		if serr := r.sleep(ctx, wait); serr != nil {
			return zero, errors.Join(lastErr, serr)
		}
	}

	return zero, &ExhaustedError{Attempts: max, Err: lastErr}
}

// Do is Execute for operations without a result value.
func Do(ctx context.Context, r *Retrier, op func(ctx context.Context) error) error {
	_, err := Execute(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}
