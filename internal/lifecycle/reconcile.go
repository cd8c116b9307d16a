package lifecycle

import (
	"time"

	"celluloid/internal/runner"
	"celluloid/internal/store"
)

const workerLostMessage = "processing failed: worker terminated unexpectedly"

// reconcile folds the runner's snapshot into the stored job and reports
// whether the record changed. The stored record wins for terminal states; the
// runner wins for everything else.
//
// A job stored as processing that the runner reads as pending or unknown is
// the crash signature: the worker picked it up, then died with the process.
// Such jobs are failed rather than left processing forever.
func reconcile(job *store.Job, snap runner.Snapshot, now time.Time) bool {
	if job.Status.Terminal() {
		return false
	}

	switch snap.State {
	case runner.StateRunning:
		changed := job.Status != store.StatusProcessing || job.Progress != snap.Progress
		job.Status = store.StatusProcessing
		job.Progress = snap.Progress
		return changed

	case runner.StateSucceeded:
		if job.Status == store.StatusCompleted {
			return false
		}
		job.Status = store.StatusCompleted
		job.Progress = 100
		if job.EndTime == nil {
			job.EndTime = &now
		}
		return true

	case runner.StateFailed:
		job.Status = store.StatusFailed
		job.ErrorMessage = snap.Error
		if job.ErrorMessage == "" {
			job.ErrorMessage = "processing failed"
		}
		job.EndTime = &now
		return true

	case runner.StatePending, runner.StateUnknown:
		if job.Status != store.StatusProcessing {
			return false
		}
		job.Status = store.StatusFailed
		job.ErrorMessage = workerLostMessage
		job.EndTime = &now
		return true
	}
	return false
}
