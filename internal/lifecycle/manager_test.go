package lifecycle_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"celluloid/internal/lifecycle"
	"celluloid/internal/runner"
	"celluloid/internal/store"
	"celluloid/internal/testsupport"
)

type fakeRunner struct {
	mu        sync.Mutex
	states    map[string]runner.Snapshot
	submitted []string
	submitErr error
	revoked   []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{states: make(map[string]runner.Snapshot)}
}

func (r *fakeRunner) Submit(_ context.Context, taskID string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitErr != nil {
		return r.submitErr
	}
	r.submitted = append(r.submitted, taskID)
	r.states[taskID] = runner.Snapshot{State: runner.StatePending}
	return nil
}

func (r *fakeRunner) QueryState(_ context.Context, taskID string) (runner.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.states[taskID]
	if !ok {
		return runner.Snapshot{State: runner.StateUnknown}, nil
	}
	return snap, nil
}

func (r *fakeRunner) Revoke(_ context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[taskID]; !ok {
		return runner.ErrUnknownTask
	}
	r.revoked = append(r.revoked, taskID)
	return nil
}

func (r *fakeRunner) setState(taskID string, snap runner.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[taskID] = snap
}

type captureNotifier struct {
	notified chan *store.Job
}

func (n *captureNotifier) NotifyCompletion(_ context.Context, job *store.Job) error {
	n.notified <- job
	return nil
}

func newManager(t *testing.T) (*lifecycle.Manager, *store.Store, *fakeRunner, *captureNotifier) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	run := newFakeRunner()
	notifier := &captureNotifier{notified: make(chan *store.Job, 4)}
	return lifecycle.NewManager(cfg, st, run, notifier, nil), st, run, notifier
}

func validRequest() lifecycle.SubmitRequest {
	return lifecycle.SubmitRequest{
		ExternalID: "cam-1",
		VideoURL:   "https://example.com/cam.mp4",
		WebhookURL: "https://example.com/hook",
	}
}

func TestSubmitCreatesQueuedJob(t *testing.T) {
	mgr, st, run, _ := newManager(t)

	sub, err := mgr.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Deduplicated {
		t.Fatal("first submission must not deduplicate")
	}
	if sub.Job.Status != store.StatusQueued {
		t.Fatalf("expected queued, got %s", sub.Job.Status)
	}
	if sub.QueuePosition != 1 {
		t.Fatalf("expected queue position 1, got %d", sub.QueuePosition)
	}
	if sub.EstimatedWait != 5*time.Minute {
		t.Fatalf("expected 5m estimated wait, got %s", sub.EstimatedWait)
	}

	if len(run.submitted) != 1 || run.submitted[0] != sub.Job.ID {
		t.Fatalf("expected runner submission for %s, got %v", sub.Job.ID, run.submitted)
	}
	if _, err := st.GetByID(context.Background(), sub.Job.ID); err != nil {
		t.Fatalf("expected persisted job: %v", err)
	}
}

func TestSubmitReusesActiveJob(t *testing.T) {
	mgr, _, run, _ := newManager(t)

	first, err := mgr.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	second, err := mgr.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}

	if !second.Deduplicated {
		t.Fatal("expected second submission to deduplicate")
	}
	if second.Job.ID != first.Job.ID {
		t.Fatalf("expected reuse of %s, got %s", first.Job.ID, second.Job.ID)
	}
	if len(run.submitted) != 1 {
		t.Fatalf("deduplicated submit must not reach the runner, got %v", run.submitted)
	}
}

func TestSubmitReusesRecentCompletedJob(t *testing.T) {
	mgr, st, run, _ := newManager(t)

	end := time.Now().UTC().Add(-time.Minute)
	done := testsupport.MustCreateJob(t, st, &store.Job{
		ID:         "done-1",
		ExternalID: "cam-1",
		VideoURL:   "https://example.com/cam.mp4",
		Status:     store.StatusCompleted,
		Progress:   100,
		ResultPath: "cam-1/detections_done-1.json",
		EndTime:    &end,
	})

	sub, err := mgr.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !sub.Deduplicated {
		t.Fatal("expected reuse of the recent completed job")
	}
	if sub.Job.ID != done.ID {
		t.Fatalf("expected %s, got %s", done.ID, sub.Job.ID)
	}
	if sub.QueuePosition != 0 {
		t.Fatalf("completed reuse has no queue position, got %d", sub.QueuePosition)
	}
	if len(run.submitted) != 0 {
		t.Fatalf("completed reuse must not reach the runner, got %v", run.submitted)
	}
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	mgr, _, _, _ := newManager(t)

	cases := []struct {
		name string
		req  lifecycle.SubmitRequest
	}{
		{"missing external id", lifecycle.SubmitRequest{VideoURL: "https://example.com/v.mp4"}},
		{"missing video url", lifecycle.SubmitRequest{ExternalID: "cam-1"}},
		{"bad video scheme", lifecycle.SubmitRequest{ExternalID: "cam-1", VideoURL: "ftp://example.com/v.mp4"}},
		{"bad webhook scheme", lifecycle.SubmitRequest{ExternalID: "cam-1", VideoURL: "https://example.com/v.mp4", WebhookURL: "not-a-url"}},
		{"threshold out of range", lifecycle.SubmitRequest{ExternalID: "cam-1", VideoURL: "https://example.com/v.mp4", SimilarityThreshold: 1.5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := mgr.Submit(context.Background(), tc.req); !errors.Is(err, lifecycle.ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestSubmitRemovesRecordWhenQueueFull(t *testing.T) {
	mgr, st, run, _ := newManager(t)
	run.submitErr = runner.ErrQueueFull

	_, err := mgr.Submit(context.Background(), validRequest())
	if !errors.Is(err, runner.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	jobs, err := st.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("rejected submission must not leave a record, got %d jobs", len(jobs))
	}
}

func TestStatusReconcilesRunningProgress(t *testing.T) {
	mgr, st, run, _ := newManager(t)

	sub, err := mgr.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	run.setState(sub.Job.ID, runner.Snapshot{State: runner.StateRunning, Progress: 42})

	status, err := mgr.Status(context.Background(), sub.Job.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Job.Status != store.StatusProcessing {
		t.Fatalf("expected processing, got %s", status.Job.Status)
	}
	if status.Job.Progress != 42 {
		t.Fatalf("expected progress 42, got %v", status.Job.Progress)
	}
	if status.QueuePosition != 0 {
		t.Fatalf("processing job has no queue position, got %d", status.QueuePosition)
	}

	stored, err := st.GetByID(context.Background(), sub.Job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != store.StatusProcessing || stored.Progress != 42 {
		t.Fatalf("reconciled state must be written back, got %s/%v", stored.Status, stored.Progress)
	}
}

func TestReconcileFailsOrphanedProcessingJob(t *testing.T) {
	mgr, st, _, notifier := newManager(t)

	// A job stored as processing that the runner never heard of is the
	// signature of a worker that died with the process.
	testsupport.MustCreateJob(t, st, &store.Job{
		ID:         "orphan-1",
		ExternalID: "cam-1",
		VideoURL:   "https://example.com/cam.mp4",
		WebhookURL: "https://example.com/hook",
		Status:     store.StatusProcessing,
		Progress:   30,
	})

	if err := mgr.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got, err := st.GetByID(context.Background(), "orphan-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != store.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "worker") {
		t.Fatalf("expected worker crash message, got %q", got.ErrorMessage)
	}
	if got.EndTime == nil {
		t.Fatal("expected end time on failed job")
	}

	select {
	case notified := <-notifier.notified:
		if notified.Status != store.StatusFailed {
			t.Fatalf("expected failure notification, got %s", notified.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("failure notification never fired")
	}

	// Crash detection must be idempotent: further reads report the same
	// failure without rewriting the record or renotifying.
	if err := mgr.Reconcile(context.Background()); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	status, err := mgr.Status(context.Background(), "orphan-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	again := status.Job
	if again.Status != store.StatusFailed {
		t.Fatalf("expected failed on second read, got %s", again.Status)
	}
	if again.ErrorMessage != got.ErrorMessage {
		t.Fatalf("error message changed across reads: %q vs %q", got.ErrorMessage, again.ErrorMessage)
	}
	if again.EndTime == nil || !again.EndTime.Equal(*got.EndTime) {
		t.Fatalf("end time changed across reads: %v vs %v", got.EndTime, again.EndTime)
	}
	select {
	case notified := <-notifier.notified:
		t.Fatalf("unexpected second notification for %s", notified.ID)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReconcileLeavesQueuedJobsAlone(t *testing.T) {
	mgr, st, _, _ := newManager(t)

	sub, err := mgr.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := mgr.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got, err := st.GetByID(context.Background(), sub.Job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != store.StatusQueued {
		t.Fatalf("pending job must stay queued, got %s", got.Status)
	}
}

func TestListAppliesReconciliation(t *testing.T) {
	mgr, _, run, _ := newManager(t)

	sub, err := mgr.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	run.setState(sub.Job.ID, runner.Snapshot{State: runner.StateRunning, Progress: 60})

	jobs, err := mgr.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	if jobs[0].Status != store.StatusProcessing || jobs[0].Progress != 60 {
		t.Fatalf("expected reconciled processing job, got %s/%v", jobs[0].Status, jobs[0].Progress)
	}

	byExternal, err := mgr.List(context.Background(), "cam-1")
	if err != nil {
		t.Fatalf("List by external id: %v", err)
	}
	if len(byExternal) != 1 || byExternal[0].ID != sub.Job.ID {
		t.Fatalf("unexpected external id listing %+v", byExternal)
	}
}

func TestListCombinesExternalIDAndStatusFilters(t *testing.T) {
	mgr, st, _, _ := newManager(t)

	end := time.Now().UTC()
	testsupport.MustCreateJob(t, st, &store.Job{
		ID:         "q-1",
		ExternalID: "cam-1",
		VideoURL:   "https://example.com/cam.mp4",
		Status:     store.StatusQueued,
	})
	testsupport.MustCreateJob(t, st, &store.Job{
		ID:         "c-1",
		ExternalID: "cam-1",
		VideoURL:   "https://example.com/cam.mp4",
		Status:     store.StatusCompleted,
		Progress:   100,
		EndTime:    &end,
	})
	testsupport.MustCreateJob(t, st, &store.Job{
		ID:         "c-2",
		ExternalID: "cam-2",
		VideoURL:   "https://example.com/other.mp4",
		Status:     store.StatusCompleted,
		Progress:   100,
		EndTime:    &end,
	})

	jobs, err := mgr.List(context.Background(), "cam-1", store.StatusCompleted)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "c-1" {
		t.Fatalf("expected only the completed cam-1 job, got %+v", jobs)
	}
}

func TestRecoverResubmitsQueuedJobs(t *testing.T) {
	mgr, st, run, _ := newManager(t)

	// Simulates a restart: the record survived, the in-memory queue did not.
	testsupport.MustCreateJob(t, st, &store.Job{
		ID:         "queued-1",
		ExternalID: "cam-1",
		VideoURL:   "https://example.com/cam.mp4",
		Status:     store.StatusQueued,
	})

	if err := mgr.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(run.submitted) != 1 || run.submitted[0] != "queued-1" {
		t.Fatalf("expected resubmission of queued-1, got %v", run.submitted)
	}

	// A second pass must not double-submit.
	if err := mgr.Recover(context.Background()); err != nil {
		t.Fatalf("second Recover: %v", err)
	}
	if len(run.submitted) != 1 {
		t.Fatalf("expected a single submission, got %v", run.submitted)
	}
}

func TestCancelRevokesAndMarksCancelled(t *testing.T) {
	mgr, st, run, _ := newManager(t)

	sub, err := mgr.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	job, err := mgr.Cancel(context.Background(), sub.Job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if job.Status != store.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", job.Status)
	}
	if job.EndTime == nil {
		t.Fatal("expected end time on cancelled job")
	}
	if len(run.revoked) != 1 || run.revoked[0] != sub.Job.ID {
		t.Fatalf("expected revoke for %s, got %v", sub.Job.ID, run.revoked)
	}

	got, err := st.GetByID(context.Background(), sub.Job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != store.StatusCancelled {
		t.Fatalf("expected persisted cancellation, got %s", got.Status)
	}

	if _, err := mgr.Cancel(context.Background(), sub.Job.ID); !errors.Is(err, lifecycle.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}
