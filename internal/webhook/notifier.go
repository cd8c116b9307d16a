package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"celluloid/internal/config"
	"celluloid/internal/logging"
	"celluloid/internal/retry"
	"celluloid/internal/store"
)

const userAgent = "Celluloid/0.1.0"

// Results carries the success half of a notification payload.
type Results struct {
	ResultPath string          `json:"result_path"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// Payload is the body posted to the job's webhook URL.
type Payload struct {
	JobID      string   `json:"job_id"`
	ExternalID string   `json:"external_id"`
	Status     string   `json:"status"`
	Timestamp  string   `json:"timestamp"`
	Results    *Results `json:"results,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Notifier is the callback delivery surface exposed to the lifecycle manager.
type Notifier interface {
	NotifyCompletion(ctx context.Context, job *store.Job) error
}

// NewNotifier builds an HTTP notifier using the configured retry policy.
func NewNotifier(cfg *config.Config, logger *slog.Logger) Notifier {
	return &httpNotifier{
		client:      &http.Client{Timeout: cfg.WebhookRequestTimeout()},
		maxAttempts: cfg.Webhook.MaxAttempts,
		baseDelay:   cfg.WebhookBaseDelay(),
		logger:      logging.NewComponentLogger(logger, "webhook"),
	}
}

type httpNotifier struct {
	client      *http.Client
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NotifyCompletion posts the job's terminal state to its webhook URL. Jobs
// without a webhook URL are a no-op. Delivery failure is logged, never
// propagated into job state.
func (n *httpNotifier) NotifyCompletion(ctx context.Context, job *store.Job) error {
	url := strings.TrimSpace(job.WebhookURL)
	if url == "" {
		return nil
	}

	payload := buildPayload(job)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	policy := retry.Policy{
		MaxAttempts: n.maxAttempts,
		BaseDelay:   n.baseDelay,
		Sleep:       n.sleep,
	}
	err = retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		deliveryErr := n.post(ctx, url, body)
		if deliveryErr != nil {
			n.logger.Warn("webhook delivery attempt failed",
				logging.String(logging.FieldJobID, job.ID),
				logging.String(logging.FieldURL, url),
				logging.Int(logging.FieldAttempt, attempt),
				logging.Error(deliveryErr))
		}
		return deliveryErr
	})
	if err != nil {
		n.logger.Error("webhook delivery abandoned",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldURL, url),
			logging.Error(err))
		return err
	}

	n.logger.Info("webhook delivered",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldStatus, string(job.Status)))
	return nil
}

func (n *httpNotifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	statusErr := fmt.Errorf("webhook returned status %d", resp.StatusCode)
	if retryableStatus(resp.StatusCode) {
		return statusErr
	}
	return retry.Permanent(statusErr)
}

// retryableStatus reports whether a response status is worth another attempt.
// Server errors are transient. Of the client errors only request timeout and
// rate limiting are; anything else means the receiver rejected the payload.
func retryableStatus(code int) bool {
	if code >= 500 {
		return true
	}
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

func buildPayload(job *store.Job) Payload {
	payload := Payload{
		JobID:      job.ID,
		ExternalID: job.ExternalID,
		Status:     string(job.Status),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if job.Status == store.StatusCompleted {
		results := &Results{ResultPath: job.ResultPath}
		if strings.TrimSpace(job.MetadataJSON) != "" {
			results.Metadata = json.RawMessage(job.MetadataJSON)
		}
		payload.Results = results
	} else {
		payload.Error = job.ErrorMessage
	}
	return payload
}
