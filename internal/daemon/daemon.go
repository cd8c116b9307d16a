package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gofrs/flock"

	"celluloid/internal/analysis"
	"celluloid/internal/config"
	"celluloid/internal/fetch"
	"celluloid/internal/lifecycle"
	"celluloid/internal/logging"
	"celluloid/internal/media"
	"celluloid/internal/runner"
	"celluloid/internal/store"
	"celluloid/internal/vision"
	"celluloid/internal/webhook"
)

const version = "0.1.0"

// Daemon coordinates the analysis service and enforces single-instance
// execution through a file lock.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	pool    *runner.Pool
	manager *lifecycle.Manager
	api     *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs the daemon and all of its collaborators.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires a config")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}

	notifier := webhook.NewNotifier(cfg, logger)
	client := vision.NewClient(cfg)
	processor := analysis.NewProcessor(
		cfg,
		st,
		fetch.New(cfg.Paths.WorkDir),
		media.NewOpener(cfg),
		client,
		client,
		client,
		notifier,
		logger,
	)
	pool := runner.NewPool(runner.Config{
		SoftTimeLimit: cfg.SoftTimeLimit(),
		HardTimeGrace: cfg.HardTimeGrace(),
	}, processor.Run, logger)
	manager := lifecycle.NewManager(cfg, st, pool, notifier, logger)

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    st,
		pool:     pool,
		manager:  manager,
		api:      newAPIServer(cfg, manager, st, logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, recovers persisted work, and brings up
// the workers and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another celluloid daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.pool.Start(runCtx)
	if err := d.manager.Recover(runCtx); err != nil {
		d.logger.Error("startup recovery", logging.Error(err))
	}
	if err := d.manager.Reconcile(runCtx); err != nil {
		d.logger.Error("startup reconcile", logging.Error(err))
	}
	go d.manager.Maintain(runCtx, d.cfg.CleanupInterval())

	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("celluloid daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldURL, d.api.addr()))
	return nil
}

// Stop shuts down the API, drains in-flight work, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.pool.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("celluloid daemon stopped")
}

// Close stops the daemon and releases held resources.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Addr reports the bound API address, empty until Start succeeds.
func (d *Daemon) Addr() string {
	return d.api.addr()
}
