// Package retry provides a small exponential-backoff combinator that is independent of any transport.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// SleepFunc waits for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes how many times an operation runs and how long to wait between runs
type Policy struct {
	Attempts  int           // Total runs, including the first. Values < 1 are treated as 1.
	BaseDelay time.Duration // Wait after the first failure; doubles after each further failure
	MaxDelay  time.Duration // Cap on a single wait, 0 = uncapped
	Jitter    float64       // Fraction of the delay added or removed at random, e.g. 0.1 for +/-10%
	Sleep     SleepFunc     // nil = ContextSleep

	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// ContextSleep is the default SleepFunc
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delay returns the wait that follows failed attempt i (0-based): BaseDelay * 2^i, capped and jittered.
func (p Policy) Delay(i int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	backoff := float64(p.BaseDelay) * math.Pow(2, float64(i))
	delay := time.Duration(backoff)
	if delay <= 0 || (p.MaxDelay > 0 && delay > p.MaxDelay) {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 && delay > 0 {
		span := int64(float64(delay) * p.Jitter * 2)
		if span > 0 {
			delay += time.Duration(rand.Int63n(span)) - time.Duration(span/2)
		}
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, returns a Permanent error, the context ends, or the attempts run out.
// It returns the last error op produced; a context error is returned only if op never ran.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if attempt == attempts-1 {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
	return lastErr
}
