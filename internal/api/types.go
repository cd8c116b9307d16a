// Package api defines the wire types shared by the daemon's HTTP surface and
// the command line client.
package api

import (
	"encoding/json"
	"time"

	"celluloid/internal/store"
)

// SubmitRequest is the body of a job submission.
type SubmitRequest struct {
	ExternalID          string  `json:"external_id"`
	VideoURL            string  `json:"video_url"`
	WebhookURL          string  `json:"webhook_url,omitempty"`
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
}

// Job describes a job record in a transport-friendly format.
type Job struct {
	JobID               string          `json:"job_id"`
	ExternalID          string          `json:"external_id"`
	VideoURL            string          `json:"video_url"`
	WebhookURL          string          `json:"webhook_url,omitempty"`
	SimilarityThreshold float64         `json:"similarity_threshold,omitempty"`
	Status              string          `json:"status"`
	Progress            float64         `json:"progress"`
	Error               string          `json:"error,omitempty"`
	ResultPath          string          `json:"result_path,omitempty"`
	Metadata            json.RawMessage `json:"metadata,omitempty"`
	QueuePosition       int             `json:"queue_position,omitempty"`
	EstimatedWait       string          `json:"estimated_wait,omitempty"`
	Deduplicated        bool            `json:"deduplicated,omitempty"`
	CreatedAt           string          `json:"created_at,omitempty"`
	UpdatedAt           string          `json:"updated_at,omitempty"`
	StartTime           string          `json:"start_time,omitempty"`
	EndTime             string          `json:"end_time,omitempty"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// HealthResponse summarizes daemon and store health.
type HealthResponse struct {
	Status     string         `json:"status"`
	Version    string         `json:"version"`
	JobCounts  map[string]int `json:"job_counts"`
	StoreError string         `json:"store_error,omitempty"`
}

// ErrorResponse is the envelope for all error payloads.
type ErrorResponse struct {
	Error string `json:"error"`
}

// JobFromStore converts a stored job into its wire form.
func JobFromStore(job *store.Job) Job {
	out := Job{
		JobID:               job.ID,
		ExternalID:          job.ExternalID,
		VideoURL:            job.VideoURL,
		WebhookURL:          job.WebhookURL,
		SimilarityThreshold: job.SimilarityThreshold,
		Status:              string(job.Status),
		Progress:            job.Progress,
		Error:               job.ErrorMessage,
		ResultPath:          job.ResultPath,
		CreatedAt:           formatTime(job.CreatedAt),
		UpdatedAt:           formatTime(job.UpdatedAt),
		StartTime:           formatTime(job.StartTime),
	}
	if job.MetadataJSON != "" {
		out.Metadata = json.RawMessage(job.MetadataJSON)
	}
	if job.EndTime != nil {
		out.EndTime = formatTime(*job.EndTime)
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
