package runner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"celluloid/internal/runner"
)

func waitForState(t *testing.T, pool *runner.Pool, taskID string, want runner.State) runner.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := pool.QueryState(context.Background(), taskID)
		if err != nil {
			t.Fatalf("query state: %v", err)
		}
		if snap.State == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := pool.QueryState(context.Background(), taskID)
	t.Fatalf("task %s never reached %s, last snapshot %+v", taskID, want, snap)
	return runner.Snapshot{}
}

func TestSubmitRunsTask(t *testing.T) {
	var mu sync.Mutex
	var ran []string
	pool := runner.NewPool(runner.Config{}, func(_ context.Context, task runner.Task, report func(float64)) error {
		mu.Lock()
		ran = append(ran, task.ID)
		mu.Unlock()
		report(50)
		return nil
	}, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	if err := pool.Submit(context.Background(), "t1", "payload"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	snap := waitForState(t, pool, "t1", runner.StateSucceeded)
	if snap.Progress != 100 {
		t.Fatalf("expected progress 100 after success, got %v", snap.Progress)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 1 || ran[0] != "t1" {
		t.Fatalf("unexpected executions %v", ran)
	}
}

func TestFailedTaskRecordsError(t *testing.T) {
	pool := runner.NewPool(runner.Config{}, func(context.Context, runner.Task, func(float64)) error {
		return errors.New("decode failed")
	}, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	if err := pool.Submit(context.Background(), "t1", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap := waitForState(t, pool, "t1", runner.StateFailed)
	if snap.Error != "decode failed" {
		t.Fatalf("unexpected error %q", snap.Error)
	}
}

func TestUnknownTaskReadsAsUnknown(t *testing.T) {
	pool := runner.NewPool(runner.Config{}, func(context.Context, runner.Task, func(float64)) error {
		return nil
	}, nil)
	snap, err := pool.QueryState(context.Background(), "never-submitted")
	if err != nil {
		t.Fatalf("query state: %v", err)
	}
	if snap.State != runner.StateUnknown {
		t.Fatalf("expected unknown state, got %s", snap.State)
	}
}

func TestProgressVisibleWhileRunning(t *testing.T) {
	release := make(chan struct{})
	pool := runner.NewPool(runner.Config{}, func(_ context.Context, _ runner.Task, report func(float64)) error {
		report(42)
		<-release
		return nil
	}, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	if err := pool.Submit(context.Background(), "t1", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, err := pool.QueryState(context.Background(), "t1")
		if err != nil {
			t.Fatalf("query state: %v", err)
		}
		if snap.State == runner.StateRunning && snap.Progress == 42 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never observed running progress, last %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
	waitForState(t, pool, "t1", runner.StateSucceeded)
}

func TestSingleSlotSerializesTasks(t *testing.T) {
	var mu sync.Mutex
	running := 0
	maxRunning := 0
	pool := runner.NewPool(runner.Config{Workers: 1}, func(context.Context, runner.Task, func(float64)) error {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil
	}, nil)
	pool.Start(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		if err := pool.Submit(context.Background(), id, nil); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	if maxRunning != 1 {
		t.Fatalf("expected at most one concurrent task, saw %d", maxRunning)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	release := make(chan struct{})
	pool := runner.NewPool(runner.Config{QueueSize: 1}, func(context.Context, runner.Task, func(float64)) error {
		<-release
		return nil
	}, nil)
	pool.Start(context.Background())
	defer func() {
		close(release)
		pool.Stop()
	}()

	if err := pool.Submit(context.Background(), "a", nil); err != nil {
		t.Fatalf("submit a: %v", err)
	}
	waitForState(t, pool, "a", runner.StateRunning)
	if err := pool.Submit(context.Background(), "b", nil); err != nil {
		t.Fatalf("submit b: %v", err)
	}

	err := pool.Submit(context.Background(), "c", nil)
	if !errors.Is(err, runner.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	snap, _ := pool.QueryState(context.Background(), "c")
	if snap.State != runner.StateUnknown {
		t.Fatalf("rejected task should read as unknown, got %s", snap.State)
	}
}

func TestRevokePendingTaskSkipsExecution(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var ran []string
	pool := runner.NewPool(runner.Config{}, func(_ context.Context, task runner.Task, _ func(float64)) error {
		mu.Lock()
		ran = append(ran, task.ID)
		mu.Unlock()
		if task.ID == "a" {
			<-release
		}
		return nil
	}, nil)
	pool.Start(context.Background())

	if err := pool.Submit(context.Background(), "a", nil); err != nil {
		t.Fatalf("submit a: %v", err)
	}
	waitForState(t, pool, "a", runner.StateRunning)
	if err := pool.Submit(context.Background(), "b", nil); err != nil {
		t.Fatalf("submit b: %v", err)
	}
	if err := pool.Revoke(context.Background(), "b"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	close(release)
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	for _, id := range ran {
		if id == "b" {
			t.Fatal("revoked task should not have run")
		}
	}
	snap, _ := pool.QueryState(context.Background(), "b")
	if snap.State != runner.StateFailed {
		t.Fatalf("expected failed state for revoked task, got %s", snap.State)
	}
}

func TestRevokeRunningTaskCancelsContext(t *testing.T) {
	pool := runner.NewPool(runner.Config{}, func(ctx context.Context, _ runner.Task, _ func(float64)) error {
		<-ctx.Done()
		return ctx.Err()
	}, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	if err := pool.Submit(context.Background(), "a", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForState(t, pool, "a", runner.StateRunning)
	if err := pool.Revoke(context.Background(), "a"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	waitForState(t, pool, "a", runner.StateFailed)
}

func TestRevokeUnknownTask(t *testing.T) {
	pool := runner.NewPool(runner.Config{}, func(context.Context, runner.Task, func(float64)) error {
		return nil
	}, nil)
	if err := pool.Revoke(context.Background(), "ghost"); !errors.Is(err, runner.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestHardTimeLimitReclaimsSlot(t *testing.T) {
	stuck := make(chan struct{})
	pool := runner.NewPool(runner.Config{
		SoftTimeLimit: 10 * time.Millisecond,
		HardTimeGrace: 10 * time.Millisecond,
	}, func(ctx context.Context, task runner.Task, _ func(float64)) error {
		if task.ID == "stuck" {
			// Ignores cancellation on purpose.
			<-stuck
			return nil
		}
		return nil
	}, nil)
	pool.Start(context.Background())

	if err := pool.Submit(context.Background(), "stuck", nil); err != nil {
		t.Fatalf("submit stuck: %v", err)
	}
	snap := waitForState(t, pool, "stuck", runner.StateFailed)
	if snap.Error == "" {
		t.Fatal("expected hard limit error message")
	}

	// The slot must be usable again.
	if err := pool.Submit(context.Background(), "next", nil); err != nil {
		t.Fatalf("submit next: %v", err)
	}
	waitForState(t, pool, "next", runner.StateSucceeded)
	close(stuck)
	pool.Stop()
}
