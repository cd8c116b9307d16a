package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"celluloid/internal/logging"
)

// State describes the runner's view of a task.
type State string

const (
	StateUnknown   State = "unknown"
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Snapshot is a point-in-time view of a task.
type Snapshot struct {
	State    State
	Progress float64
	Error    string
}

// Task is a unit of work accepted by the pool.
type Task struct {
	ID      string
	Payload any
}

// TaskFunc executes a task. Implementations should honor ctx cancellation and
// may call report with a completion percentage in [0, 100].
type TaskFunc func(ctx context.Context, task Task, report func(percent float64)) error

// ErrQueueFull indicates the pending queue has no free capacity.
var ErrQueueFull = errors.New("task queue is full")

// ErrUnknownTask indicates the pool has no record of the task.
var ErrUnknownTask = errors.New("unknown task")

// Config holds pool construction parameters.
type Config struct {
	// Workers is the number of concurrent processing slots. Defaults to 1.
	Workers int
	// QueueSize is the pending queue capacity. Defaults to 64.
	QueueSize int
	// SoftTimeLimit cancels the task context after this duration. Zero
	// disables the limit.
	SoftTimeLimit time.Duration
	// HardTimeGrace is how long after the soft limit the pool waits before
	// abandoning the slot. Only meaningful with a soft limit.
	HardTimeGrace time.Duration
}

type taskState struct {
	state    State
	progress float64
	err      string
	revoked  bool
	cancel   context.CancelFunc
}

// Pool is an in-process task runner with a bounded pending queue.
type Pool struct {
	cfg    Config
	exec   TaskFunc
	logger *slog.Logger

	tasks   chan Task
	mu      sync.Mutex
	states  map[string]*taskState
	wg      sync.WaitGroup
	baseCtx context.Context

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPool constructs a pool that executes tasks with exec.
func NewPool(cfg Config, exec TaskFunc, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Pool{
		cfg:    cfg,
		exec:   exec,
		logger: logging.NewComponentLogger(logger, "runner"),
		tasks:  make(chan Task, cfg.QueueSize),
		states: make(map[string]*taskState),
	}
}

// Start launches the worker goroutines. ctx bounds the lifetime of all tasks.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.baseCtx = ctx
		for i := 0; i < p.cfg.Workers; i++ {
			p.wg.Add(1)
			go p.worker()
		}
		p.logger.Info("task pool started", logging.Int("workers", p.cfg.Workers))
	})
}

// Stop closes the queue and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}

// Submit enqueues a task. The task reads back as pending until a worker
// picks it up.
func (p *Pool) Submit(ctx context.Context, taskID string, payload any) error {
	p.mu.Lock()
	p.states[taskID] = &taskState{state: StatePending}
	p.mu.Unlock()

	select {
	case p.tasks <- Task{ID: taskID, Payload: payload}:
		return nil
	case <-ctx.Done():
		p.dropState(taskID)
		return ctx.Err()
	default:
		p.dropState(taskID)
		return ErrQueueFull
	}
}

// QueryState returns the runner's view of a task. Tasks the pool has never
// seen, including everything submitted before a restart, read as unknown.
func (p *Pool) QueryState(_ context.Context, taskID string) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[taskID]
	if !ok {
		return Snapshot{State: StateUnknown}, nil
	}
	return Snapshot{State: st.state, Progress: st.progress, Error: st.err}, nil
}

// Revoke prevents a pending task from running, or cancels a running one.
func (p *Pool) Revoke(_ context.Context, taskID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[taskID]
	if !ok {
		return ErrUnknownTask
	}
	switch st.state {
	case StatePending:
		st.revoked = true
		st.state = StateFailed
		st.err = "revoked before execution"
	case StateRunning:
		st.revoked = true
		if st.cancel != nil {
			st.cancel()
		}
	}
	return nil
}

func (p *Pool) dropState(taskID string) {
	p.mu.Lock()
	delete(p.states, taskID)
	p.mu.Unlock()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	p.mu.Lock()
	st, ok := p.states[task.ID]
	if !ok || st.revoked {
		p.mu.Unlock()
		p.logger.Info("skipping revoked task", logging.String(logging.FieldJobID, task.ID))
		return
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if p.cfg.SoftTimeLimit > 0 {
		ctx, cancel = context.WithTimeout(p.baseCtx, p.cfg.SoftTimeLimit)
	} else {
		ctx, cancel = context.WithCancel(p.baseCtx)
	}
	st.state = StateRunning
	st.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	report := func(percent float64) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		p.mu.Lock()
		if cur := p.states[task.ID]; cur != nil && cur.state == StateRunning {
			cur.progress = percent
		}
		p.mu.Unlock()
	}

	started := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- p.exec(ctx, task, report)
	}()

	var hardDeadline <-chan time.Time
	if p.cfg.SoftTimeLimit > 0 && p.cfg.HardTimeGrace > 0 {
		timer := time.NewTimer(p.cfg.SoftTimeLimit + p.cfg.HardTimeGrace)
		defer timer.Stop()
		hardDeadline = timer.C
	}

	select {
	case err := <-done:
		p.finish(task.ID, err, time.Since(started))
	case <-hardDeadline:
		// The task ignored its cancelled context. Reclaim the slot and let
		// the goroutine die with the daemon.
		p.mu.Lock()
		if cur := p.states[task.ID]; cur != nil {
			cur.state = StateFailed
			cur.err = fmt.Sprintf("hard time limit exceeded after %s", p.cfg.SoftTimeLimit+p.cfg.HardTimeGrace)
		}
		p.mu.Unlock()
		p.logger.Error("abandoning task past hard time limit",
			logging.String(logging.FieldJobID, task.ID),
			logging.Duration(logging.FieldDuration, time.Since(started)))
	}
}

func (p *Pool) finish(taskID string, err error, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.states[taskID]
	if st == nil {
		return
	}
	if err != nil {
		st.state = StateFailed
		st.err = err.Error()
		p.logger.Warn("task failed",
			logging.String(logging.FieldJobID, taskID),
			logging.Error(err),
			logging.Duration(logging.FieldDuration, elapsed))
		return
	}
	st.state = StateSucceeded
	st.progress = 100
	p.logger.Info("task finished",
		logging.String(logging.FieldJobID, taskID),
		logging.Duration(logging.FieldDuration, elapsed))
}
