package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Recording is the parsed shape of one probed audio file.
type Recording struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the probed file.
type Stream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Duration   string `json:"duration"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Format captures container-level metadata.
type Format struct {
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	FormatName string `json:"format_name"`
}

// Runner executes the probe binary and returns its stdout. Swappable in
// tests.
type Runner func(ctx context.Context, binary string, args ...string) ([]byte, error)

func defaultRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, binary, args...).Output()
}

// Prober inspects recordings with ffprobe.
type Prober struct {
	binary string
	run    Runner
}

// New builds a Prober. An empty binary falls back to ffprobe on PATH.
func New(binary string) *Prober {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{binary: binary, run: defaultRunner}
}

// WithRunner replaces the command runner.
func (p *Prober) WithRunner(run Runner) *Prober {
	if run != nil {
		p.run = run
	}
	return p
}

// Inspect probes the recording at path.
func (p *Prober) Inspect(ctx context.Context, path string) (Recording, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Recording{}, errors.New("probe: empty path")
	}

	output, err := p.run(ctx, p.binary,
		"-v", "error", "-hide_banner",
		"-show_format", "-show_streams",
		"-of", "json", "--", path)
	if err != nil {
		return Recording{}, fmt.Errorf("probe %s: %w", path, err)
	}

	var rec Recording
	if err := json.Unmarshal(output, &rec); err != nil {
		return Recording{}, fmt.Errorf("probe parse: %w", err)
	}
	return rec, nil
}

// DurationSeconds returns the recording length in seconds. The container
// duration wins; the first audio stream is the fallback for containers that
// only report per-stream timing.
func (r Recording) DurationSeconds() float64 {
	if d := parseFloat(r.Format.Duration); d > 0 {
		return d
	}
	for _, stream := range r.Streams {
		if !strings.EqualFold(stream.CodecType, "audio") {
			continue
		}
		if d := parseFloat(stream.Duration); d > 0 {
			return d
		}
	}
	return 0
}

// HasAudio reports whether at least one audio stream was found.
func (r Recording) HasAudio() bool {
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			return true
		}
	}
	return false
}

// AudioCodec returns the codec of the first audio stream, or "".
func (r Recording) AudioCodec() string {
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			return stream.CodecName
		}
	}
	return ""
}

func parseFloat(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
