package config

const (
	defaultDataDir             = "~/.local/share/murmur"
	defaultLogDir              = "~/.local/share/murmur/logs"
	defaultStagingDir          = "~/.local/share/murmur/staging"
	defaultLogLevel            = "info"
	defaultLogFormat           = "text"
	defaultTranscriptionModel  = "whisper-1"
	defaultAnalysisBaseURL     = "https://openrouter.ai/api/v1/chat/completions"
	defaultAnalysisModel       = "google/gemini-3-flash-preview"
	defaultAnalysisTitle       = "Murmur Note Analysis"
	defaultAnalysisTimeout     = 60
	defaultTranscribeTimeout   = 120
	defaultMaxUploadBytes      = 25 * 1024 * 1024
	defaultChunkBytes          = 20 * 1024 * 1024
	defaultMultiPassThreshold  = 8000
	defaultStorageBackend      = "fs"
	defaultLeaseBackend        = "sqlite"
	defaultLeaseTimeoutMinutes = 30
	defaultFailureThreshold    = 5
	defaultResetTimeoutSeconds = 30
	defaultBatchSize           = 10
	defaultMaxAttempts         = 3
	defaultPollInterval        = 60
	defaultInterJobDelayMS     = 500
	defaultStuckThresholdMin   = 15
	defaultFFmpegBinary        = "ffmpeg"
	defaultNotifyTimeout       = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			StagingDir: defaultStagingDir,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Transcription: Transcription{
			Model:          defaultTranscriptionModel,
			TimeoutSeconds: defaultTranscribeTimeout,
			MaxUploadBytes: defaultMaxUploadBytes,
			ChunkBytes:     defaultChunkBytes,
		},
		Analysis: Analysis{
			BaseURL:            defaultAnalysisBaseURL,
			Model:              defaultAnalysisModel,
			Title:              defaultAnalysisTitle,
			TimeoutSeconds:     defaultAnalysisTimeout,
			MultiPassThreshold: defaultMultiPassThreshold,
		},
		Storage: Storage{
			Backend: defaultStorageBackend,
		},
		Lease: Lease{
			Backend:        defaultLeaseBackend,
			TimeoutMinutes: defaultLeaseTimeoutMinutes,
		},
		Breaker: Breaker{
			FailureThreshold:    defaultFailureThreshold,
			ResetTimeoutSeconds: defaultResetTimeoutSeconds,
		},
		Workflow: Workflow{
			BatchSize:           defaultBatchSize,
			MaxAttempts:         defaultMaxAttempts,
			PollIntervalSeconds: defaultPollInterval,
			InterJobDelayMS:     defaultInterJobDelayMS,
			StuckThresholdMin:   defaultStuckThresholdMin,
			FFmpegBinary:        defaultFFmpegBinary,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Errors:         true,
			Batches:        true,
		},
	}
}
