package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"murmur/internal/config"
	"murmur/internal/logging"
	"murmur/internal/services"
)

// NoteAnalysis is the structured output persisted for a processed recording.
type NoteAnalysis struct {
	Summary     string   `json:"summary"`
	KeyPoints   []string `json:"key_points"`
	ActionItems []string `json:"action_items"`
	Sentiment   string   `json:"sentiment"`
	Topics      []string `json:"topics"`
	Passes      int      `json:"passes"`
}

// Input bundles everything the analyzer needs about one transcript.
type Input struct {
	Transcript    string
	UserKnowledge string
	RecordedAt    time.Time
}

const defaultMultiPassThreshold = 6000

// Analyzer decides between single-pass and segmented multi-pass analysis and
// shapes the model output into a NoteAnalysis.
type Analyzer struct {
	client             *Client
	multiPassThreshold int
	logger             *slog.Logger
}

// NewFromConfig builds an Analyzer from the analysis config section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, opts ...ClientOption) *Analyzer {
	threshold := cfg.Analysis.MultiPassThreshold
	if threshold <= 0 {
		threshold = defaultMultiPassThreshold
	}
	return &Analyzer{
		client: NewClient(ClientConfig{
			APIKey:         cfg.Analysis.APIKey,
			BaseURL:        cfg.Analysis.BaseURL,
			Model:          cfg.Analysis.Model,
			Referer:        cfg.Analysis.Referer,
			Title:          cfg.Analysis.Title,
			TimeoutSeconds: cfg.Analysis.TimeoutSeconds,
		}, opts...),
		multiPassThreshold: threshold,
		logger:             logging.NewComponentLogger(logger, "analysis"),
	}
}

// Analyze runs the transcript through the model. Long or dense transcripts
// are segmented, each segment analyzed separately, and a final merge pass
// produces the combined result.
func (a *Analyzer) Analyze(ctx context.Context, input Input) (*NoteAnalysis, error) {
	transcript := strings.TrimSpace(input.Transcript)
	if transcript == "" {
		return nil, services.Wrap(services.ErrValidation, "analysis", "analyze", "empty transcript", nil)
	}

	if !needsMultiPass(transcript, a.multiPassThreshold) {
		result, err := a.analyzeOnce(ctx, analysisUserPrompt(transcript, input))
		if err != nil {
			return nil, err
		}
		result.Passes = 1
		return result, nil
	}

	segments := segmentTranscript(transcript, a.multiPassThreshold)
	a.logger.Info("transcript requires multi-pass analysis",
		logging.Int("length", len(transcript)),
		logging.Int("segments", len(segments)),
	)

	partials := make([]*NoteAnalysis, 0, len(segments))
	for i, segment := range segments {
		partial, err := a.analyzeOnce(ctx, analysisUserPrompt(segment, input))
		if err != nil {
			return nil, services.Wrap(services.ErrExternalTool, "analysis", "analyze",
				fmt.Sprintf("segment %d of %d failed", i+1, len(segments)), err)
		}
		partials = append(partials, partial)
	}

	merged, err := a.analyzeOnce(ctx, mergeUserPrompt(partials, input))
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "analysis", "analyze", "merge pass failed", err)
	}
	merged.Passes = len(segments) + 1
	return merged, nil
}

func (a *Analyzer) analyzeOnce(ctx context.Context, userPrompt string) (*NoteAnalysis, error) {
	content, err := a.client.CompleteJSON(ctx, analysisSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}
	var parsed NoteAnalysis
	if err := DecodeModelJSON(content, &parsed); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "analysis", "decode", "unparseable model output", err)
	}
	parsed.Summary = strings.TrimSpace(parsed.Summary)
	parsed.Sentiment = normalizeSentiment(parsed.Sentiment)
	parsed.KeyPoints = trimAll(parsed.KeyPoints)
	parsed.ActionItems = trimAll(parsed.ActionItems)
	parsed.Topics = trimAll(parsed.Topics)
	return &parsed, nil
}

// needsMultiPass applies the length threshold plus a density score. A short
// transcript that hops across many topics still earns multi-pass treatment.
func needsMultiPass(transcript string, threshold int) bool {
	if len(transcript) > threshold {
		return true
	}
	return complexityScore(transcript) >= 8
}

// complexityScore is a cheap proxy for how much the model must juggle: one
// point per 200 words, one per 25 sentences, one per topic-shift marker.
func complexityScore(transcript string) int {
	words := len(strings.Fields(transcript))
	sentences := strings.Count(transcript, ".") + strings.Count(transcript, "?") + strings.Count(transcript, "!")

	score := words/200 + sentences/25
	lower := strings.ToLower(transcript)
	for _, marker := range []string{"another thing", "also,", "next topic", "moving on", "by the way", "separately"} {
		score += strings.Count(lower, marker)
	}
	return score
}

// segmentTranscript cuts the transcript into pieces of at most maxLen bytes,
// preferring sentence boundaries so no thought is split mid-stream.
func segmentTranscript(transcript string, maxLen int) []string {
	if maxLen <= 0 || len(transcript) <= maxLen {
		return []string{transcript}
	}
	var segments []string
	remaining := transcript
	for len(remaining) > maxLen {
		cut := maxLen
		if idx := strings.LastIndexAny(remaining[:maxLen], ".?!"); idx > maxLen/2 {
			cut = idx + 1
		} else {
			// Back off to a rune boundary so no segment carries a torn
			// multi-byte character.
			for cut > 0 && !utf8.RuneStart(remaining[cut]) {
				cut--
			}
			if cut == 0 {
				_, size := utf8.DecodeRuneInString(remaining)
				cut = size
			}
		}
		segments = append(segments, strings.TrimSpace(remaining[:cut]))
		remaining = strings.TrimSpace(remaining[cut:])
	}
	if remaining != "" {
		segments = append(segments, remaining)
	}
	return segments
}

func normalizeSentiment(sentiment string) string {
	switch s := strings.ToLower(strings.TrimSpace(sentiment)); s {
	case "positive", "negative", "neutral", "mixed":
		return s
	default:
		return "neutral"
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}
