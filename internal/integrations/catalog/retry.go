package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy is applied uniformly to every page. Backoff[i] is the delay
// before attempt i+2; when attempts outnumber the schedule the last delay
// is reused.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 8 * time.Second
)

// ExponentialPolicy builds a deterministic doubling schedule capped at max.
func ExponentialPolicy(maxAttempts int, initial, max time.Duration) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	if max < initial {
		max = initial
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	schedule := make([]time.Duration, 0, maxAttempts-1)
	for i := 1; i < maxAttempts; i++ {
		schedule = append(schedule, b.NextBackOff())
	}
	return RetryPolicy{MaxAttempts: maxAttempts, Backoff: schedule}
}

func DefaultRetryPolicy() RetryPolicy {
	return ExponentialPolicy(DefaultMaxAttempts, DefaultInitialBackoff, DefaultMaxBackoff)
}

// Delay returns the pause after the given failed attempt (1-based).
func (p RetryPolicy) Delay(failedAttempt int) time.Duration {
	if len(p.Backoff) == 0 || failedAttempt <= 0 {
		return 0
	}
	i := failedAttempt - 1
	if i >= len(p.Backoff) {
		i = len(p.Backoff) - 1
	}
	return p.Backoff[i]
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Retry runs op until it succeeds, returns a non-retryable error, or the
// policy is exhausted. It returns the number of attempts made.
func Retry[T any](
	ctx context.Context,
	p RetryPolicy,
	op func(ctx context.Context, attempt int) (T, error),
	onRetry func(attempt int, delay time.Duration, err error),
) (T, int, error) {
	var (
		zero    T
		lastErr error
	)
	max := p.attempts()
	for attempt := 1; attempt <= max; attempt++ {
		if attempt > 1 {
			delay := p.Delay(attempt - 1)
			var rl ErrRateLimited
			if errors.As(lastErr, &rl) && rl.RetryAfter > delay {
				delay = rl.RetryAfter
			}
			if onRetry != nil {
				onRetry(attempt, delay, lastErr)
			}
			if err := sleep(ctx, delay); err != nil {
				return zero, attempt - 1, ErrTimeout{Err: err}
			}
		}

		res, err := op(ctx, attempt)
		if Classify(err) != OutcomeRetryable {
			return res, attempt, err
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, attempt, lastErr
		}
	}
	return zero, max, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
