package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that the configuration can support a processing run.
// Missing remote credentials are reported together so operators can fix
// everything in one pass.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Transcription.BaseURL) == "" {
		problems = append(problems, "transcription.base_url is required")
	}
	if strings.TrimSpace(c.Transcription.APIKey) == "" {
		problems = append(problems, "transcription.api_key is required")
	}
	if strings.TrimSpace(c.Analysis.APIKey) == "" {
		problems = append(problems, "analysis.api_key is required")
	}

	switch c.Storage.Backend {
	case "fs":
		if c.Paths.MediaDir == "" {
			problems = append(problems, "paths.media_dir is required for the fs storage backend")
		}
	case "http":
	case "s3":
		if strings.TrimSpace(c.Storage.S3Bucket) == "" {
			problems = append(problems, "storage.s3_bucket is required for the s3 backend")
		}
		if strings.TrimSpace(c.Storage.S3Region) == "" {
			problems = append(problems, "storage.s3_region is required for the s3 backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.backend %q is not one of fs, http, s3", c.Storage.Backend))
	}

	switch c.Lease.Backend {
	case "sqlite":
	case "redis":
		if strings.TrimSpace(c.Lease.RedisURL) == "" {
			problems = append(problems, "lease.redis_url is required for the redis backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("lease.backend %q is not one of sqlite, redis", c.Lease.Backend))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
