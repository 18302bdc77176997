package testsupport

import (
	"path/filepath"
	"testing"

	"murmur/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.MediaDir = filepath.Join(base, "media")
	cfgVal.Transcription.BaseURL = "http://127.0.0.1:0"
	cfgVal.Transcription.APIKey = "test"
	cfgVal.Analysis.BaseURL = "http://127.0.0.1:0"
	cfgVal.Analysis.APIKey = "test"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithTranscriptionEndpoint points the transcription client at url.
func WithTranscriptionEndpoint(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Transcription.BaseURL = url
	}
}

// WithAnalysisEndpoint points the analysis client at url.
func WithAnalysisEndpoint(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Analysis.BaseURL = url
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
