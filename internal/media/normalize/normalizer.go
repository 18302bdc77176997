package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"murmur/internal/logging"
	"murmur/internal/media/container"
)

const (
	// CompressThreshold is the size above which CompressForUpload re-encodes.
	CompressThreshold = 2 * 1024 * 1024
	// largeInputBytes switches the conversion target from WAV to MP3 so a
	// long recording does not balloon past the upstream upload cap.
	largeInputBytes = 10 * 1024 * 1024
)

// Result carries the outcome of a normalization or compression pass.
type Result struct {
	Data           []byte
	Format         container.Format
	MIMEType       string
	Converted      bool
	OriginalSize   int
	CompressedSize int
	Warnings       []string
}

// Normalizer converts audio buffers with an external ffmpeg when available.
type Normalizer struct {
	ffmpegBinary  string
	stagingDir    string
	logger        *slog.Logger
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// New builds a Normalizer. stagingDir holds transient conversion files.
func New(ffmpegBinary, stagingDir string, logger *slog.Logger) *Normalizer {
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	return &Normalizer{
		ffmpegBinary: ffmpegBinary,
		stagingDir:   stagingDir,
		logger:       logging.NewComponentLogger(logger, "normalizer"),
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (n *Normalizer) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	n.commandRunner = runner
}

// Normalize converts data to a transcription-compatible format when the
// container analysis flags it. When conversion is impossible the original
// bytes are returned with warnings instead of an error, so normalization
// alone never blocks the pipeline.
func (n *Normalizer) Normalize(ctx context.Context, data []byte, info container.Info) Result {
	result := Result{
		Data:           data,
		Format:         info.Format,
		MIMEType:       info.Format.MIMEType(),
		OriginalSize:   len(data),
		CompressedSize: len(data),
	}
	if !info.NeedsConversion {
		return result
	}

	target := container.FormatWAV
	if len(data) > largeInputBytes {
		target = container.FormatMP3
	}

	converted, err := n.convert(ctx, data, info.Format, target)
	if err != nil {
		n.logger.Warn("audio conversion failed; proceeding with original bytes",
			logging.Error(err),
			logging.String("source_format", string(info.Format)),
			logging.String("target_format", string(target)),
		)
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("conversion to %s failed (%v); transcription will receive the original %s bytes",
				target, err, info.Format))
		return result
	}

	result.Data = converted
	result.Format = target
	result.MIMEType = target.MIMEType()
	result.Converted = true
	result.CompressedSize = len(converted)
	return result
}

// CompressForUpload re-encodes oversized buffers to mono 16 kHz at a low
// bitrate purely to respect upstream size limits. Buffers at or below the
// threshold pass through untouched.
func (n *Normalizer) CompressForUpload(ctx context.Context, data []byte, format container.Format) Result {
	result := Result{
		Data:           data,
		Format:         format,
		MIMEType:       format.MIMEType(),
		OriginalSize:   len(data),
		CompressedSize: len(data),
	}
	if len(data) <= CompressThreshold {
		return result
	}

	compressed, err := n.convert(ctx, data, format, container.FormatMP3)
	if err != nil {
		n.logger.Warn("upload compression failed; uploading original bytes",
			logging.Error(err),
			logging.Int("size", len(data)),
		)
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("compression failed (%v); uploading original %d bytes", err, len(data)))
		return result
	}
	if len(compressed) >= len(data) {
		result.Warnings = append(result.Warnings, "compression did not reduce size; keeping original bytes")
		return result
	}

	result.Data = compressed
	result.Format = container.FormatMP3
	result.MIMEType = container.FormatMP3.MIMEType()
	result.Converted = true
	result.CompressedSize = len(compressed)
	return result
}

func (n *Normalizer) convert(ctx context.Context, data []byte, source, target container.Format) ([]byte, error) {
	if n.commandRunner == nil {
		if _, err := exec.LookPath(n.ffmpegBinary); err != nil {
			return nil, fmt.Errorf("ffmpeg unavailable: %w", err)
		}
	}
	if err := os.MkdirAll(n.stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure staging dir: %w", err)
	}

	input, err := os.CreateTemp(n.stagingDir, "normalize-in-*"+extFor(source))
	if err != nil {
		return nil, fmt.Errorf("create temp input: %w", err)
	}
	defer os.Remove(input.Name())
	if _, err := input.Write(data); err != nil {
		input.Close()
		return nil, fmt.Errorf("write temp input: %w", err)
	}
	input.Close()

	output := strings.TrimSuffix(input.Name(), extFor(source)) + "-out" + extFor(target)
	defer os.Remove(output)

	args := buildConvertArgs(input.Name(), output, target)
	if err := n.run(ctx, n.ffmpegBinary, args...); err != nil {
		return nil, err
	}

	converted, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("read converted output: %w", err)
	}
	if len(converted) == 0 {
		return nil, fmt.Errorf("conversion produced empty output")
	}
	return converted, nil
}

func (n *Normalizer) run(ctx context.Context, name string, args ...string) error {
	if n.commandRunner != nil {
		return n.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// buildConvertArgs downmixes to mono at 16 kHz, which is what Whisper-class
// engines expect; MP3 targets additionally get a low bitrate to shrink
// uploads.
func buildConvertArgs(input, output string, target container.Format) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
	}
	if target == container.FormatMP3 {
		args = append(args, "-b:a", "32k")
	} else {
		args = append(args, "-acodec", "pcm_s16le")
	}
	return append(args, output)
}

func extFor(format container.Format) string {
	switch format {
	case container.FormatWAV:
		return ".wav"
	case container.FormatMP3:
		return ".mp3"
	case container.FormatOGG:
		return ".ogg"
	case container.FormatWebM:
		return ".webm"
	case container.FormatMP4:
		return ".mp4"
	default:
		return ".bin"
	}
}
