package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"celluloid/internal/retry"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	var delays []time.Duration
	policy := retry.Policy{
		MaxAttempts: 5,
		BaseDelay:   30 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}

	calls := 0
	err := retry.Do(context.Background(), policy, func(_ context.Context, attempt int) error {
		calls++
		if attempt != calls {
			t.Fatalf("attempt %d does not match call %d", attempt, calls)
		}
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	want := []time.Duration{30 * time.Second, 60 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected %d delays, got %v", len(want), delays)
	}
	for i, d := range want {
		if delays[i] != d {
			t.Fatalf("delay %d: expected %v, got %v", i, d, delays[i])
		}
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	policy := retry.Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}

	calls := 0
	err := retry.Do(context.Background(), policy, func(context.Context, int) error {
		calls++
		return errors.New("still broken")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	policy := retry.Policy{
		MaxAttempts: 10,
		BaseDelay:   time.Second,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}

	calls := 0
	cause := errors.New("bad request")
	err := retry.Do(context.Background(), policy, func(context.Context, int) error {
		calls++
		return retry.Permanent(cause)
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := retry.Policy{
		MaxAttempts: 10,
		BaseDelay:   time.Second,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}

	calls := 0
	err := retry.Do(ctx, policy, func(context.Context, int) error {
		calls++
		return errors.New("transient")
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
