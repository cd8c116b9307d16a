package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"celluloid/internal/api"
	"celluloid/internal/config"
)

// client talks to the daemon's HTTP API.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClient(cfg *config.Config, serverOverride string) *client {
	base := strings.TrimSpace(serverOverride)
	if base == "" {
		base = "http://" + cfg.Paths.APIBind
	}
	return &client{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  cfg.Paths.APIKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) submit(ctx context.Context, req api.SubmitRequest) (api.Job, error) {
	var job api.Job
	_, err := c.do(ctx, http.MethodPost, "/api/jobs", req, &job)
	return job, err
}

func (c *client) status(ctx context.Context, jobID string) (api.Job, error) {
	var job api.Job
	_, err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil, &job)
	return job, err
}

func (c *client) list(ctx context.Context, statuses []string, externalID string) ([]api.Job, error) {
	query := url.Values{}
	for _, status := range statuses {
		query.Add("status", status)
	}
	if externalID != "" {
		query.Set("external_id", externalID)
	}
	path := "/api/jobs"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var resp api.JobListResponse
	_, err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp.Jobs, err
}

func (c *client) cancel(ctx context.Context, jobID string) (api.Job, error) {
	var job api.Job
	_, err := c.do(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(jobID), nil, &job)
	return job, err
}

// results returns the raw result document when the job is complete, or the
// job's current status with done=false while it is still running.
func (c *client) results(ctx context.Context, jobID string) (json.RawMessage, api.Job, bool, error) {
	path := "/api/jobs/" + url.PathEscape(jobID) + "/results"
	body, code, err := c.raw(ctx, http.MethodGet, path)
	if err != nil {
		return nil, api.Job{}, false, err
	}
	if code == http.StatusAccepted {
		var job api.Job
		if err := json.Unmarshal(body, &job); err != nil {
			return nil, api.Job{}, false, fmt.Errorf("decode status payload: %w", err)
		}
		return nil, job, false, nil
	}
	return body, api.Job{}, true, nil
}

func (c *client) health(ctx context.Context) (api.HealthResponse, error) {
	var resp api.HealthResponse
	_, err := c.do(ctx, http.MethodGet, "/api/health", nil, &resp)
	return resp, err
}

func (c *client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, decodeError(resp.StatusCode, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *client) raw(ctx context.Context, method, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, decodeError(resp.StatusCode, data)
	}
	return data, resp.StatusCode, nil
}

func decodeError(code int, data []byte) error {
	var envelope api.ErrorResponse
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != "" {
		return fmt.Errorf("daemon: %s", envelope.Error)
	}
	return fmt.Errorf("daemon answered %d", code)
}
