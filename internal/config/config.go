package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	OutputDir string `toml:"output_dir"`
	WorkDir   string `toml:"work_dir"`
	LogDir    string `toml:"log_dir"`
	APIBind   string `toml:"api_bind"`
	APIKey    string `toml:"api_key"`
}

// Jobs contains job lifecycle timing configuration. All values are seconds
// except EstimatedMinutesPerJob.
type Jobs struct {
	ResultTTL              int `toml:"result_ttl"`
	DedupWindow            int `toml:"dedup_window"`
	EstimatedMinutesPerJob int `toml:"estimated_minutes_per_job"`
	SoftTimeLimit          int `toml:"soft_time_limit"`
	HardTimeGrace          int `toml:"hard_time_grace"`
	CleanupInterval        int `toml:"cleanup_interval"`
}

// Webhook contains callback delivery configuration.
type Webhook struct {
	MaxAttempts    int `toml:"max_attempts"`
	BaseDelay      int `toml:"base_delay"`
	RequestTimeout int `toml:"request_timeout"`
}

// Detection contains object detection and identity association settings.
type Detection struct {
	MinScore            float64 `toml:"min_score"`
	MaxResults          int     `toml:"max_results"`
	SimilarityThreshold float64 `toml:"similarity_threshold"`
}

// Inference contains the ML sidecar connection settings.
type Inference struct {
	BaseURL string `toml:"base_url"`
	Timeout int    `toml:"timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for celluloid.
//
// Configuration sections by subsystem:
//   - Paths: directories, API bind address, and API key
//   - Jobs: result TTL, dedup window, queue estimates, execution limits
//   - Webhook: callback retry policy and request timeout
//   - Detection: detector thresholds and identity similarity threshold
//   - Inference: ML sidecar base URL and request timeout
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Jobs      Jobs      `toml:"jobs"`
	Webhook   Webhook   `toml:"webhook"`
	Detection Detection `toml:"detection"`
	Inference Inference `toml:"inference"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/celluloid/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("celluloid.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.WorkDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the job database inside the work dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.WorkDir, "celluloid.db")
}

// LockPath returns the daemon lock file location inside the work dir.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.WorkDir, "celluloidd.lock")
}

// FFprobeBinary returns the ffprobe executable name used for media validation.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// FFmpegBinary returns the ffmpeg executable name used for frame decoding.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// ResultTTL returns the job record time-to-live as a duration.
func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.Jobs.ResultTTL) * time.Second
}

// DedupWindow returns the completed-job reuse window as a duration.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.Jobs.DedupWindow) * time.Second
}

// SoftTimeLimit returns the per-job execution deadline as a duration.
func (c *Config) SoftTimeLimit() time.Duration {
	return time.Duration(c.Jobs.SoftTimeLimit) * time.Second
}

// HardTimeGrace returns the slot-abandon grace period as a duration.
func (c *Config) HardTimeGrace() time.Duration {
	return time.Duration(c.Jobs.HardTimeGrace) * time.Second
}

// CleanupInterval returns the expired-record sweep interval as a duration.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Jobs.CleanupInterval) * time.Second
}

// WebhookBaseDelay returns the initial webhook retry delay as a duration.
func (c *Config) WebhookBaseDelay() time.Duration {
	return time.Duration(c.Webhook.BaseDelay) * time.Second
}

// WebhookRequestTimeout returns the per-request webhook timeout as a duration.
func (c *Config) WebhookRequestTimeout() time.Duration {
	return time.Duration(c.Webhook.RequestTimeout) * time.Second
}

// InferenceTimeout returns the ML sidecar request timeout as a duration.
func (c *Config) InferenceTimeout() time.Duration {
	return time.Duration(c.Inference.Timeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
