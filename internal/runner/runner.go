// Package runner provides the concurrency and retry kernel used by every
// pipeline stage: per-call timeouts, classified retries with exponential
// backoff, and bounded parallel execution that never short-circuits.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/reelgen/reelgen/internal/provider"
	"golang.org/x/sync/errgroup"
)

// RetryConfig configures retry behavior for provider calls.
type RetryConfig struct {
	MaxAttempts   int           // Maximum number of attempts (default: 3)
	InitialDelay  time.Duration // Delay before the first retry (default: 500ms)
	BackoffFactor float64       // Multiplier for exponential backoff (default: 2.0)
}

// DefaultRetryConfig returns sensible defaults for provider retry.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

// quotaDelayFactor stretches the single quota retry beyond the normal
// schedule; rate windows reset in seconds, not milliseconds.
const quotaDelayFactor = 4

// maxRetryInterval caps a single backoff sleep.
const maxRetryInterval = 30 * time.Second

// WithTimeout runs fn under a derived deadline. A deadline hit surfaces as
// a timeout-classified error carrying op; parent cancellation surfaces as
// cancelled. d <= 0 runs fn without a deadline.
func WithTimeout(ctx context.Context, d time.Duration, op string, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}

	// Preserve existing classification; only translate raw context errors.
	// KindOf can't tell those apart (it maps bare context errors to
	// timeout/cancelled), so check for a wrapped *provider.Error instead.
	var pe *provider.Error
	if errors.As(err, &pe) {
		return err
	}
	switch {
	case callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		return provider.Timeout(op, err)
	case ctx.Err() != nil:
		return provider.Cancelled(op, err)
	}
	return err
}

// Retry runs fn until it succeeds, returns a non-retriable error, or the
// attempt budget is spent. The schedule is exponential from InitialDelay
// by BackoffFactor. Classification drives the loop:
//
//   - content_policy, bad_output, auth: returned immediately (the caller's
//     fallback chain owns those, not the retry loop)
//   - provider_quota: one extra attempt after a longer delay
//   - timeout, provider_transient: retried until MaxAttempts
func Retry(ctx context.Context, log *slog.Logger, cfg RetryConfig, op string, fn func(context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg = DefaultRetryConfig()
	}
	if log == nil {
		log = slog.Default()
	}

	sched := backoff.NewExponentialBackOff()
	sched.InitialInterval = cfg.InitialDelay
	sched.Multiplier = cfg.BackoffFactor
	sched.RandomizationFactor = 0
	sched.MaxInterval = maxRetryInterval
	sched.Reset()

	var lastErr error
	quotaRetried := false

	for attempt := 1; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return provider.Cancelled(op, lastErr)
		}

		kind := provider.KindOf(lastErr)
		var delay time.Duration
		switch {
		case kind == provider.KindQuota:
			if quotaRetried {
				return lastErr
			}
			quotaRetried = true
			delay = time.Duration(quotaDelayFactor) * cfg.InitialDelay
		case !provider.Retriable(lastErr):
			return lastErr
		case attempt >= cfg.MaxAttempts:
			return lastErr
		default:
			delay = sched.NextBackOff()
		}

		log.WarnContext(ctx, "retrying after failure",
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.String("error_kind", string(kind)),
			slog.Duration("delay", delay),
			slog.String("error", lastErr.Error()),
		)

		select {
		case <-ctx.Done():
			return provider.Cancelled(op, lastErr)
		case <-time.After(delay):
		}
	}
}

// BoundedParallel runs work(i) for i in [0, n) with at most limit calls in
// flight. Every index runs regardless of other indices failing; the result
// slice maps index to its error (nil on success). Parent cancellation
// stops scheduling and records the context error for indices never run.
func BoundedParallel(ctx context.Context, limit, n int, work func(ctx context.Context, i int) error) []error {
	if n <= 0 {
		return nil
	}
	if limit < 1 {
		limit = 1
	}

	errs := make([]error, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			// Worker failures stay in the slice; returning them would
			// cancel the group and starve the remaining indices.
			errs[i] = work(gctx, i)
			return nil
		})
	}

	_ = g.Wait()
	return errs
}

// FirstError returns the first non-nil error from a BoundedParallel result.
func FirstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// CountErrors returns the number of failed indices.
func CountErrors(errs []error) int {
	count := 0
	for _, err := range errs {
		if err != nil {
			count++
		}
	}
	return count
}
