// Package retry provides bounded retries with doubling backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy describes a bounded retry schedule. The delay before attempt n+1 is
// BaseDelay doubled n-1 times.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Sleep overrides the delay function, for tests. Nil uses a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so Do stops retrying immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do runs op until it succeeds, returns a permanent error, the attempt budget
// is exhausted, or ctx is cancelled. attempt is 1-based.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context, attempt int) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = realSleep
	}

	delay := policy.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (after %d attempts: %w)", err, attempt-1, lastErr)
			}
			return err
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		var pe *permanentError
		if errors.As(err, &pe) {
			return fmt.Errorf("attempt %d: %w", attempt, pe.err)
		}
		if attempt == policy.MaxAttempts {
			break
		}

		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w (after %d attempts: %w)", err, attempt, lastErr)
		}
		delay *= 2
	}
	return fmt.Errorf("all %d attempts failed: %w", policy.MaxAttempts, lastErr)
}

func realSleep(ctx context.Context, d time.Duration) error {
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
