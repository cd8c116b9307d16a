package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeJobs()
	c.normalizeWebhook()
	c.normalizeDetection()
	c.normalizeInference()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIKey = strings.TrimSpace(c.Paths.APIKey)
	if c.Paths.APIKey == "" {
		if value, ok := os.LookupEnv("CELLULOID_API_KEY"); ok {
			c.Paths.APIKey = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeJobs() {
	if c.Jobs.ResultTTL <= 0 {
		c.Jobs.ResultTTL = defaultResultTTL
	}
	if c.Jobs.DedupWindow <= 0 {
		c.Jobs.DedupWindow = defaultDedupWindow
	}
	if c.Jobs.EstimatedMinutesPerJob <= 0 {
		c.Jobs.EstimatedMinutesPerJob = defaultEstimatedMinutesPerJob
	}
	if c.Jobs.SoftTimeLimit <= 0 {
		c.Jobs.SoftTimeLimit = defaultSoftTimeLimit
	}
	if c.Jobs.HardTimeGrace <= 0 {
		c.Jobs.HardTimeGrace = defaultHardTimeGrace
	}
	if c.Jobs.CleanupInterval <= 0 {
		c.Jobs.CleanupInterval = defaultCleanupInterval
	}
}

func (c *Config) normalizeWebhook() {
	if c.Webhook.MaxAttempts <= 0 {
		c.Webhook.MaxAttempts = defaultWebhookMaxAttempts
	}
	if c.Webhook.BaseDelay <= 0 {
		c.Webhook.BaseDelay = defaultWebhookBaseDelay
	}
	if c.Webhook.RequestTimeout <= 0 {
		c.Webhook.RequestTimeout = defaultWebhookRequestTimeout
	}
}

func (c *Config) normalizeDetection() {
	if c.Detection.MinScore <= 0 {
		c.Detection.MinScore = defaultDetectionMinScore
	}
	if c.Detection.MaxResults <= 0 {
		c.Detection.MaxResults = defaultDetectionMaxResults
	}
	if c.Detection.SimilarityThreshold <= 0 {
		c.Detection.SimilarityThreshold = defaultSimilarityThreshold
	}
}

func (c *Config) normalizeInference() {
	c.Inference.BaseURL = strings.TrimRight(strings.TrimSpace(c.Inference.BaseURL), "/")
	if c.Inference.BaseURL == "" {
		c.Inference.BaseURL = defaultInferenceBaseURL
	}
	if c.Inference.Timeout <= 0 {
		c.Inference.Timeout = defaultInferenceTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
