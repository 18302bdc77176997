package config

import (
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() {
	c.Paths.DataDir = expandPath(c.Paths.DataDir)
	c.Paths.LogDir = expandPath(c.Paths.LogDir)
	c.Paths.StagingDir = expandPath(c.Paths.StagingDir)
	c.Paths.MediaDir = expandPath(c.Paths.MediaDir)

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Lease.Backend = strings.ToLower(strings.TrimSpace(c.Lease.Backend))

	if c.Lease.TimeoutMinutes <= 0 {
		c.Lease.TimeoutMinutes = defaultLeaseTimeoutMinutes
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = defaultFailureThreshold
	}
	if c.Breaker.ResetTimeoutSeconds <= 0 {
		c.Breaker.ResetTimeoutSeconds = defaultResetTimeoutSeconds
	}
	if c.Workflow.BatchSize <= 0 {
		c.Workflow.BatchSize = defaultBatchSize
	}
	if c.Workflow.MaxAttempts <= 0 {
		c.Workflow.MaxAttempts = defaultMaxAttempts
	}
	if c.Workflow.InterJobDelayMS <= 0 {
		c.Workflow.InterJobDelayMS = defaultInterJobDelayMS
	}
	if c.Workflow.FFmpegBinary == "" {
		c.Workflow.FFmpegBinary = defaultFFmpegBinary
	}
	if c.Transcription.MaxUploadBytes <= 0 {
		c.Transcription.MaxUploadBytes = defaultMaxUploadBytes
	}
	if c.Transcription.ChunkBytes <= 0 {
		c.Transcription.ChunkBytes = defaultChunkBytes
	}
	if c.Analysis.MultiPassThreshold <= 0 {
		c.Analysis.MultiPassThreshold = defaultMultiPassThreshold
	}
}

func expandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return filepath.Clean(path)
}
