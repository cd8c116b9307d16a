package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"celluloid/internal/config"
	"celluloid/internal/logging"
	"celluloid/internal/runner"
	"celluloid/internal/store"
	"celluloid/internal/webhook"
)

// Runner is the slice of the task pool the manager depends on.
type Runner interface {
	Submit(ctx context.Context, taskID string, payload any) error
	QueryState(ctx context.Context, taskID string) (runner.Snapshot, error)
	Revoke(ctx context.Context, taskID string) error
}

// ErrInvalidRequest indicates a submission with missing or malformed fields.
var ErrInvalidRequest = errors.New("invalid submission")

// ErrAlreadyTerminal indicates a cancel request for a finished job.
var ErrAlreadyTerminal = errors.New("job already finished")

// SubmitRequest carries the caller-supplied fields of a new job.
type SubmitRequest struct {
	ExternalID          string
	VideoURL            string
	WebhookURL          string
	SimilarityThreshold float64
}

// Submission is the outcome of a submit call. Deduplicated reports whether an
// existing job was reused instead of creating a new one.
type Submission struct {
	Job           *store.Job
	QueuePosition int
	EstimatedWait time.Duration
	Deduplicated  bool
}

// JobStatus is a reconciled view of a job.
type JobStatus struct {
	Job           *store.Job
	QueuePosition int
	EstimatedWait time.Duration
}

// Manager keeps the job store and the task runner in agreement.
type Manager struct {
	store       *store.Store
	runner      Runner
	notifier    webhook.Notifier
	dedupWindow time.Duration
	perJob      time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewManager wires a lifecycle manager from its collaborators.
func NewManager(cfg *config.Config, st *store.Store, run Runner, notifier webhook.Notifier, logger *slog.Logger) *Manager {
	return &Manager{
		store:       st,
		runner:      run,
		notifier:    notifier,
		dedupWindow: cfg.DedupWindow(),
		perJob:      time.Duration(cfg.Jobs.EstimatedMinutesPerJob) * time.Minute,
		logger:      logging.NewComponentLogger(logger, "lifecycle"),
		now:         time.Now,
	}
}

// Submit registers a new analysis job, reusing an existing one when the same
// external identifier is already in flight or finished inside the dedup window.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if active, err := m.store.FindActiveByExternalID(ctx, req.ExternalID); err == nil {
		position, err := m.store.QueuePosition(ctx, active.ID)
		if err != nil {
			return nil, err
		}
		m.logger.Info("reusing active job",
			logging.String(logging.FieldJobID, active.ID),
			logging.String(logging.FieldExternalID, req.ExternalID),
			logging.String(logging.FieldStatus, string(active.Status)))
		return &Submission{
			Job:           active,
			QueuePosition: position,
			EstimatedWait: m.estimatedWait(position),
			Deduplicated:  true,
		}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	cutoff := m.now().UTC().Add(-m.dedupWindow)
	if recent, err := m.store.FindRecentCompleted(ctx, req.ExternalID, cutoff); err == nil {
		m.logger.Info("reusing recently completed job",
			logging.String(logging.FieldJobID, recent.ID),
			logging.String(logging.FieldExternalID, req.ExternalID))
		return &Submission{Job: recent, Deduplicated: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	job := &store.Job{
		ID:                  uuid.NewString(),
		ExternalID:          req.ExternalID,
		VideoURL:            req.VideoURL,
		WebhookURL:          req.WebhookURL,
		SimilarityThreshold: req.SimilarityThreshold,
		Status:              store.StatusQueued,
	}
	if err := m.store.Create(ctx, job); err != nil {
		return nil, err
	}
	if err := m.runner.Submit(ctx, job.ID, nil); err != nil {
		// Keep the store consistent: a job the runner never accepted must
		// not linger as queued.
		if _, removeErr := m.store.Remove(ctx, job.ID); removeErr != nil {
			m.logger.Error("remove rejected job",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(removeErr))
		}
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	position, err := m.store.QueuePosition(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	m.logger.Info("job submitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldExternalID, req.ExternalID),
		logging.Int("queue_position", position))
	return &Submission{
		Job:           job,
		QueuePosition: position,
		EstimatedWait: m.estimatedWait(position),
	}, nil
}

// Status returns the reconciled state of a job. Disagreements between the
// stored record and the runner are resolved and written back before returning.
func (m *Manager) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	job, err := m.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := m.reconcileJob(ctx, job); err != nil {
		return nil, err
	}

	position := 0
	if job.Status == store.StatusQueued {
		position, err = m.store.QueuePosition(ctx, job.ID)
		if err != nil {
			return nil, err
		}
	}
	return &JobStatus{
		Job:           job,
		QueuePosition: position,
		EstimatedWait: m.estimatedWait(position),
	}, nil
}

// List returns jobs with reconciliation applied, filtered by external ID or
// status set.
func (m *Manager) List(ctx context.Context, externalID string, statuses ...store.Status) ([]*store.Job, error) {
	var (
		jobs []*store.Job
		err  error
	)
	if externalID != "" {
		jobs, err = m.store.ListByExternalID(ctx, externalID, statuses...)
	} else {
		jobs, err = m.store.List(ctx, statuses...)
	}
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if err := m.reconcileJob(ctx, job); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// Cancel revokes a job with the runner and marks the record cancelled.
func (m *Manager) Cancel(ctx context.Context, jobID string) (*store.Job, error) {
	job, err := m.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, ErrAlreadyTerminal
	}

	if err := m.runner.Revoke(ctx, jobID); err != nil && !errors.Is(err, runner.ErrUnknownTask) {
		return nil, fmt.Errorf("revoke job %s: %w", jobID, err)
	}

	now := m.now().UTC()
	job.Status = store.StatusCancelled
	job.EndTime = &now
	if err := m.store.Update(ctx, job); err != nil {
		return nil, err
	}
	m.logger.Info("job cancelled",
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldExternalID, job.ExternalID))
	return job, nil
}

// Reconcile aligns every active job record with the runner's view. Jobs whose
// worker died without a trace are failed and their webhooks fired.
func (m *Manager) Reconcile(ctx context.Context) error {
	jobs, err := m.store.List(ctx, store.StatusQueued, store.StatusProcessing)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := m.reconcileJob(ctx, job); err != nil {
			m.logger.Error("reconcile job",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err))
		}
	}
	return nil
}

// Recover resubmits queued jobs the runner has no record of. Called once at
// startup, before the first reconcile pass, so queued work survives restarts.
func (m *Manager) Recover(ctx context.Context) error {
	jobs, err := m.store.List(ctx, store.StatusQueued)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		snap, err := m.runner.QueryState(ctx, job.ID)
		if err != nil {
			return err
		}
		if snap.State != runner.StateUnknown {
			continue
		}
		if err := m.runner.Submit(ctx, job.ID, nil); err != nil {
			m.logger.Error("resubmit recovered job",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err))
			continue
		}
		m.logger.Info("recovered queued job",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldExternalID, job.ExternalID))
	}
	return nil
}

// Maintain runs periodic reconciliation and expiry purges until ctx ends.
func (m *Manager) Maintain(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Reconcile(ctx); err != nil {
				m.logger.Error("reconcile pass", logging.Error(err))
			}
			purged, err := m.store.PurgeExpired(ctx)
			if err != nil {
				m.logger.Error("purge expired jobs", logging.Error(err))
				continue
			}
			if purged > 0 {
				m.logger.Info("purged expired jobs", logging.Int64("count", purged))
			}
		}
	}
}

func (m *Manager) reconcileJob(ctx context.Context, job *store.Job) error {
	if job.Status.Terminal() {
		return nil
	}
	snap, err := m.runner.QueryState(ctx, job.ID)
	if err != nil {
		return err
	}

	changed := reconcile(job, snap, m.now().UTC())
	if !changed {
		return nil
	}
	if err := m.store.Update(ctx, job); err != nil {
		return err
	}
	if job.Status == store.StatusFailed {
		m.logger.Warn("job failed during reconciliation",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldExternalID, job.ExternalID),
			logging.String("reason", job.ErrorMessage))
		m.notify(job)
	}
	return nil
}

func (m *Manager) notify(job *store.Job) {
	if m.notifier == nil {
		return
	}
	go func() {
		_ = m.notifier.NotifyCompletion(context.Background(), job)
	}()
}

func (m *Manager) estimatedWait(position int) time.Duration {
	if position <= 0 {
		return 0
	}
	return time.Duration(position) * m.perJob
}

func validateRequest(req SubmitRequest) error {
	if strings.TrimSpace(req.ExternalID) == "" {
		return fmt.Errorf("%w: external_id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.VideoURL) == "" {
		return fmt.Errorf("%w: video_url is required", ErrInvalidRequest)
	}
	if !strings.HasPrefix(req.VideoURL, "http://") && !strings.HasPrefix(req.VideoURL, "https://") {
		return fmt.Errorf("%w: video_url must be an http or https URL", ErrInvalidRequest)
	}
	if req.WebhookURL != "" &&
		!strings.HasPrefix(req.WebhookURL, "http://") && !strings.HasPrefix(req.WebhookURL, "https://") {
		return fmt.Errorf("%w: webhook_url must be an http or https URL", ErrInvalidRequest)
	}
	if req.SimilarityThreshold < 0 || req.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be between 0 and 1", ErrInvalidRequest)
	}
	return nil
}
