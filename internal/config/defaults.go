package config

const (
	defaultOutputDir              = "~/.local/share/celluloid/outputs"
	defaultWorkDir                = "~/.local/share/celluloid/work"
	defaultLogDir                 = "~/.local/share/celluloid/logs"
	defaultAPIBind                = "127.0.0.1:8200"
	defaultResultTTL              = 86400
	defaultDedupWindow            = 3600
	defaultEstimatedMinutesPerJob = 5
	defaultSoftTimeLimit          = 1500
	defaultHardTimeGrace          = 300
	defaultCleanupInterval        = 300
	defaultWebhookMaxAttempts     = 10
	defaultWebhookBaseDelay       = 30
	defaultWebhookRequestTimeout  = 30
	defaultDetectionMinScore      = 0.8
	defaultDetectionMaxResults    = 5
	defaultSimilarityThreshold    = 0.7
	defaultInferenceBaseURL       = "http://127.0.0.1:8500"
	defaultInferenceTimeout       = 60
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			WorkDir:   defaultWorkDir,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Jobs: Jobs{
			ResultTTL:              defaultResultTTL,
			DedupWindow:            defaultDedupWindow,
			EstimatedMinutesPerJob: defaultEstimatedMinutesPerJob,
			SoftTimeLimit:          defaultSoftTimeLimit,
			HardTimeGrace:          defaultHardTimeGrace,
			CleanupInterval:        defaultCleanupInterval,
		},
		Webhook: Webhook{
			MaxAttempts:    defaultWebhookMaxAttempts,
			BaseDelay:      defaultWebhookBaseDelay,
			RequestTimeout: defaultWebhookRequestTimeout,
		},
		Detection: Detection{
			MinScore:            defaultDetectionMinScore,
			MaxResults:          defaultDetectionMaxResults,
			SimilarityThreshold: defaultSimilarityThreshold,
		},
		Inference: Inference{
			BaseURL: defaultInferenceBaseURL,
			Timeout: defaultInferenceTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
