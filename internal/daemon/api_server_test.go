package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"celluloid/internal/api"
	"celluloid/internal/config"
	"celluloid/internal/lifecycle"
	"celluloid/internal/runner"
	"celluloid/internal/store"
	"celluloid/internal/testsupport"
)

// newTestServer builds the HTTP surface over a real store and an idle task
// pool, so submitted jobs stay pending.
func newTestServer(t *testing.T, opts ...testsupport.ConfigOption) (*httptest.Server, *store.Store, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)

	exec := func(ctx context.Context, _ runner.Task, _ func(float64)) error {
		<-ctx.Done()
		return ctx.Err()
	}
	pool := runner.NewPool(runner.Config{}, exec, nil)
	mgr := lifecycle.NewManager(cfg, st, pool, nil, nil)
	srv := newAPIServer(cfg, mgr, st, nil)

	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	return ts, st, cfg
}

func submitJob(t *testing.T, ts *httptest.Server, req api.SubmitRequest) (api.Job, int) {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(ts.URL+"/api/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/jobs: %v", err)
	}
	defer resp.Body.Close()

	var job api.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return job, resp.StatusCode
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestSubmitAndStatus(t *testing.T) {
	ts, _, _ := newTestServer(t)

	job, code := submitJob(t, ts, api.SubmitRequest{
		ExternalID: "cam-1",
		VideoURL:   "https://example.com/cam.mp4",
	})
	if code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	if job.JobID == "" || job.Status != "queued" {
		t.Fatalf("unexpected submission response %+v", job)
	}
	if job.QueuePosition != 1 {
		t.Fatalf("expected queue position 1, got %d", job.QueuePosition)
	}

	var got api.Job
	if code := getJSON(t, ts.URL+"/api/jobs/"+job.JobID, &got); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if got.JobID != job.JobID || got.Status != "queued" {
		t.Fatalf("unexpected status response %+v", got)
	}

	var list api.JobListResponse
	if code := getJSON(t, ts.URL+"/api/jobs?status=queued", &list); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(list.Jobs) != 1 || list.Jobs[0].JobID != job.JobID {
		t.Fatalf("unexpected job list %+v", list.Jobs)
	}
}

func TestSubmitDeduplicates(t *testing.T) {
	ts, _, _ := newTestServer(t)
	req := api.SubmitRequest{ExternalID: "cam-1", VideoURL: "https://example.com/cam.mp4"}

	first, code := submitJob(t, ts, req)
	if code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	second, code := submitJob(t, ts, req)
	if code != http.StatusOK {
		t.Fatalf("duplicate submission should answer 200, got %d", code)
	}
	if !second.Deduplicated || second.JobID != first.JobID {
		t.Fatalf("expected reuse of %s, got %+v", first.JobID, second)
	}
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	ts, _, _ := newTestServer(t)

	if _, code := submitJob(t, ts, api.SubmitRequest{ExternalID: "cam-1"}); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing video_url, got %d", code)
	}

	resp, err := http.Post(ts.URL+"/api/jobs", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", resp.StatusCode)
	}
}

func TestCancelJob(t *testing.T) {
	ts, _, _ := newTestServer(t)
	job, _ := submitJob(t, ts, api.SubmitRequest{ExternalID: "cam-1", VideoURL: "https://example.com/cam.mp4"})

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/jobs/"+job.JobID, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	var cancelled api.Job
	if err := json.NewDecoder(resp.Body).Decode(&cancelled); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || cancelled.Status != "cancelled" {
		t.Fatalf("expected cancelled job, got %d %+v", resp.StatusCode, cancelled)
	}

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("second DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("cancelling a finished job should answer 409, got %d", resp.StatusCode)
	}
}

func TestResultsEndpoint(t *testing.T) {
	ts, st, cfg := newTestServer(t)
	job, _ := submitJob(t, ts, api.SubmitRequest{ExternalID: "cam-1", VideoURL: "https://example.com/cam.mp4"})

	resultsURL := ts.URL + "/api/jobs/" + job.JobID + "/results"
	if code := getJSON(t, resultsURL, nil); code != http.StatusAccepted {
		t.Fatalf("unfinished job should answer 202, got %d", code)
	}

	// Finish the job by hand and drop a result document in place.
	stored, err := st.GetByID(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	relPath := filepath.Join("cam-1", "detections.json")
	if err := os.MkdirAll(filepath.Join(cfg.Paths.OutputDir, "cam-1"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	document := `{"version":"1.0","frames":[]}`
	if err := os.WriteFile(filepath.Join(cfg.Paths.OutputDir, relPath), []byte(document), 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}
	now := time.Now().UTC()
	stored.Status = store.StatusCompleted
	stored.Progress = 100
	stored.ResultPath = relPath
	stored.EndTime = &now
	if err := st.Update(context.Background(), stored); err != nil {
		t.Fatalf("Update: %v", err)
	}

	resp, err := http.Get(resultsURL)
	if err != nil {
		t.Fatalf("GET results: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if doc["version"] != "1.0" {
		t.Fatalf("unexpected document %v", doc)
	}

	stored.Status = store.StatusFailed
	stored.ErrorMessage = "processing failed"
	if err := st.Update(context.Background(), stored); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if code := getJSON(t, resultsURL, nil); code != http.StatusConflict {
		t.Fatalf("failed job should answer 409, got %d", code)
	}
}

func TestUnknownJobAnswers404(t *testing.T) {
	ts, _, _ := newTestServer(t)
	if code := getJSON(t, ts.URL+"/api/jobs/no-such-job", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestAPIKeyGuardsJobRoutes(t *testing.T) {
	ts, _, _ := newTestServer(t, testsupport.WithAPIKey("sekrit"))

	resp, err := http.Get(ts.URL + "/api/jobs")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/jobs", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(apiKeyHeader, "sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with key: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", resp.StatusCode)
	}

	// Health stays open for probes.
	if code := getJSON(t, ts.URL+"/api/health", nil); code != http.StatusOK {
		t.Fatalf("expected open health endpoint, got %d", code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)
	submitJob(t, ts, api.SubmitRequest{ExternalID: "cam-1", VideoURL: "https://example.com/cam.mp4"})

	var health api.HealthResponse
	if code := getJSON(t, ts.URL+"/api/health", &health); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if health.Status != "ok" {
		t.Fatalf("expected ok, got %q", health.Status)
	}
	if health.JobCounts["queued"] != 1 {
		t.Fatalf("expected one queued job, got %v", health.JobCounts)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/jobs", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
