package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateWebhook(); err != nil {
		return err
	}
	if err := c.validateDetection(); err != nil {
		return err
	}
	if err := c.validateInference(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateJobs() error {
	return ensurePositiveMap(map[string]int{
		"jobs.result_ttl":                c.Jobs.ResultTTL,
		"jobs.dedup_window":              c.Jobs.DedupWindow,
		"jobs.estimated_minutes_per_job": c.Jobs.EstimatedMinutesPerJob,
		"jobs.soft_time_limit":           c.Jobs.SoftTimeLimit,
		"jobs.hard_time_grace":           c.Jobs.HardTimeGrace,
		"jobs.cleanup_interval":          c.Jobs.CleanupInterval,
	})
}

func (c *Config) validateWebhook() error {
	return ensurePositiveMap(map[string]int{
		"webhook.max_attempts":    c.Webhook.MaxAttempts,
		"webhook.base_delay":      c.Webhook.BaseDelay,
		"webhook.request_timeout": c.Webhook.RequestTimeout,
	})
}

func (c *Config) validateDetection() error {
	if c.Detection.MinScore <= 0 || c.Detection.MinScore > 1 {
		return errors.New("detection.min_score must be between 0 and 1")
	}
	if c.Detection.SimilarityThreshold < 0 || c.Detection.SimilarityThreshold > 1 {
		return errors.New("detection.similarity_threshold must be between 0 and 1")
	}
	if c.Detection.MaxResults <= 0 {
		return errors.New("detection.max_results must be positive")
	}
	return nil
}

func (c *Config) validateInference() error {
	parsed, err := url.Parse(c.Inference.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("inference.base_url must be a valid URL, got %q", c.Inference.BaseURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("inference.base_url must use http or https, got %q", parsed.Scheme)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
