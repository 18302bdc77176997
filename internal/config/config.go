package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	StagingDir string `toml:"staging_dir"`
	MediaDir   string `toml:"media_dir"`
}

// Logging controls log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Transcription contains settings for the remote transcription service.
type Transcription struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	Language       string `toml:"language"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
	ChunkBytes     int64  `toml:"chunk_bytes"`
}

// Analysis contains settings for the remote analysis service.
type Analysis struct {
	BaseURL            string `toml:"base_url"`
	APIKey             string `toml:"api_key"`
	Model              string `toml:"model"`
	Referer            string `toml:"referer"`
	Title              string `toml:"title"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	MultiPassThreshold int    `toml:"multi_pass_threshold"`
}

// Storage selects how source media is fetched.
type Storage struct {
	Backend  string `toml:"backend"` // fs, http, or s3
	S3Bucket string `toml:"s3_bucket"`
	S3Region string `toml:"s3_region"`
}

// Lease selects the mutual-exclusion backend and timing.
type Lease struct {
	Backend        string `toml:"backend"` // sqlite or redis
	RedisURL       string `toml:"redis_url"`
	TimeoutMinutes int    `toml:"timeout_minutes"`
}

// Breaker tunes the shared circuit breaker.
type Breaker struct {
	FailureThreshold    int `toml:"failure_threshold"`
	ResetTimeoutSeconds int `toml:"reset_timeout_seconds"`
}

// Workflow contains batch scheduling and retry settings.
type Workflow struct {
	BatchSize           int    `toml:"batch_size"`
	MaxAttempts         int    `toml:"max_attempts"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	InterJobDelayMS     int    `toml:"inter_job_delay_ms"`
	StuckThresholdMin   int    `toml:"stuck_threshold_minutes"`
	FFmpegBinary        string `toml:"ffmpeg_binary"`
}

// Notifications contains ntfy push notification settings.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Errors         bool   `toml:"errors"`
	Batches        bool   `toml:"batches"`
}

// Config is the root configuration document.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Logging       Logging       `toml:"logging"`
	Transcription Transcription `toml:"transcription"`
	Analysis      Analysis      `toml:"analysis"`
	Storage       Storage       `toml:"storage"`
	Lease         Lease         `toml:"lease"`
	Breaker       Breaker       `toml:"breaker"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the expected config location.
func DefaultConfigPath() string {
	return expandPath("~/.config/murmur/config.toml")
}

// Load reads configuration from path, falling back to defaults when the file
// does not exist. The returned config is normalized but not validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.normalize()
	return &cfg, nil
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// Redacted returns a copy with API keys masked for display.
func (c *Config) Redacted() Config {
	out := *c
	out.Transcription.APIKey = maskSecret(out.Transcription.APIKey)
	out.Analysis.APIKey = maskSecret(out.Analysis.APIKey)
	return out
}

func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****"
	}
	return value[:4] + "****"
}

// EnsureDirectories creates the directories murmur needs at runtime.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.StagingDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
