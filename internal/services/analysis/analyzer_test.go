package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"murmur/internal/config"
	"murmur/internal/logging"
)

func completionBody(t *testing.T, content string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	if err != nil {
		t.Fatalf("marshal completion: %v", err)
	}
	return body
}

func newTestAnalyzer(t *testing.T, serverURL string, threshold int) *Analyzer {
	t.Helper()
	cfg := config.Default()
	cfg.Analysis.BaseURL = serverURL
	cfg.Analysis.APIKey = "test-key"
	cfg.Analysis.Model = "test-model"
	cfg.Analysis.MultiPassThreshold = threshold
	return NewFromConfig(&cfg, logging.NewNop(), WithSleeper(func(time.Duration) {}))
}

func TestAnalyzeSinglePass(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var payload struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			ResponseFormat map[string]string `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload.ResponseFormat["type"] != "json_object" {
			t.Errorf("response_format = %v", payload.ResponseFormat)
		}
		if !strings.Contains(payload.Messages[1].Content, "buy milk") {
			t.Errorf("user prompt missing transcript: %q", payload.Messages[1].Content)
		}
		if !strings.Contains(payload.Messages[1].Content, "works at Acme") {
			t.Errorf("user prompt missing knowledge: %q", payload.Messages[1].Content)
		}
		w.Write(completionBody(t, `{"summary":"Reminder to buy milk.","key_points":["milk needed"],"action_items":["buy milk"],"sentiment":"NEUTRAL","topics":["errands"]}`))
	}))
	defer server.Close()

	analyzer := newTestAnalyzer(t, server.URL, 10000)
	result, err := analyzer.Analyze(context.Background(), Input{
		Transcript:    "Remember to buy milk on the way home.",
		UserKnowledge: "works at Acme",
		RecordedAt:    time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if requests != 1 {
		t.Fatalf("requests = %d, want 1", requests)
	}
	if result.Passes != 1 {
		t.Fatalf("passes = %d, want 1", result.Passes)
	}
	if result.Sentiment != "neutral" {
		t.Fatalf("sentiment = %q, want normalized neutral", result.Sentiment)
	}
	if len(result.ActionItems) != 1 || result.ActionItems[0] != "buy milk" {
		t.Fatalf("action items = %v", result.ActionItems)
	}
}

func TestAnalyzeMultiPassSegmentsAndMerges(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write(completionBody(t, fmt.Sprintf(`{"summary":"part %d","key_points":[],"action_items":[],"sentiment":"neutral","topics":[]}`, requests)))
	}))
	defer server.Close()

	// Threshold of 80 forces a transcript of ~200 bytes into segments.
	analyzer := newTestAnalyzer(t, server.URL, 80)
	transcript := strings.Repeat("First we talked about budgets. ", 4) +
		strings.Repeat("Then we talked about hiring. ", 4)

	result, err := analyzer.Analyze(context.Background(), Input{Transcript: transcript})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if requests < 3 {
		t.Fatalf("requests = %d, want at least 2 segments plus merge", requests)
	}
	if result.Passes != requests {
		t.Fatalf("passes = %d, want %d", result.Passes, requests)
	}
	if result.Summary != fmt.Sprintf("part %d", requests) {
		t.Fatalf("final summary should come from the merge pass, got %q", result.Summary)
	}
}

func TestAnalyzeEmptyTranscript(t *testing.T) {
	analyzer := newTestAnalyzer(t, "http://unused", 10000)
	if _, err := analyzer.Analyze(context.Background(), Input{Transcript: "   "}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestClientRetriesWithRetryAfter(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Write(completionBody(t, `{"ok":true}`))
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(ClientConfig{APIKey: "k", BaseURL: server.URL, Model: "m"},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }))
	content, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if requests != 2 {
		t.Fatalf("requests = %d, want 2", requests)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("slept = %v, want the Retry-After value", slept)
	}
	if content != `{"ok":true}` {
		t.Fatalf("content = %q", content)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{APIKey: "k", BaseURL: server.URL, Model: "m"},
		WithSleeper(func(time.Duration) {}))
	if _, err := client.CompleteJSON(context.Background(), "system", "user"); err == nil {
		t.Fatal("expected error")
	}
	if requests != 1 {
		t.Fatalf("requests = %d, want 1", requests)
	}
}

func TestDecodeModelJSONToleratesFences(t *testing.T) {
	var out struct {
		Summary string `json:"summary"`
	}
	fenced := "```json\n{\"summary\":\"fine\"}\n```"
	if err := DecodeModelJSON(fenced, &out); err != nil {
		t.Fatalf("fenced decode: %v", err)
	}
	if out.Summary != "fine" {
		t.Fatalf("summary = %q", out.Summary)
	}

	wrapped := `Here is the analysis: {"summary":"ok"} hope that helps`
	if err := DecodeModelJSON(wrapped, &out); err != nil {
		t.Fatalf("wrapped decode: %v", err)
	}
	if out.Summary != "ok" {
		t.Fatalf("summary = %q", out.Summary)
	}

	if err := DecodeModelJSON("no json here", &out); err == nil {
		t.Fatal("expected decode failure")
	}
}

func TestSegmentTranscriptPrefersSentenceBoundaries(t *testing.T) {
	transcript := "One sentence here. Another sentence follows. And a third one closes."
	segments := segmentTranscript(transcript, 30)
	if len(segments) < 2 {
		t.Fatalf("segments = %d, want at least 2", len(segments))
	}
	for i, segment := range segments[:len(segments)-1] {
		if !strings.HasSuffix(segment, ".") {
			t.Fatalf("segment %d %q should end at a sentence boundary", i, segment)
		}
	}
	if strings.Join(strings.Fields(strings.Join(segments, " ")), " ") !=
		strings.Join(strings.Fields(transcript), " ") {
		t.Fatal("segmentation lost text")
	}
}

func TestSegmentTranscriptKeepsRuneBoundaries(t *testing.T) {
	// No sentence punctuation, so every cut lands at the length limit and
	// must back off to a rune boundary instead of tearing a character.
	transcript := strings.TrimSpace(strings.Repeat("音声メモの内容を確認する ", 10))
	segments := segmentTranscript(transcript, 50)
	if len(segments) < 2 {
		t.Fatalf("segments = %d, want at least 2", len(segments))
	}
	for i, segment := range segments {
		if !utf8.ValidString(segment) {
			t.Fatalf("segment %d is not valid UTF-8: %q", i, segment)
		}
	}
	if strings.Join(strings.Fields(strings.Join(segments, " ")), " ") !=
		strings.Join(strings.Fields(transcript), " ") {
		t.Fatal("segmentation lost text")
	}
}

func TestNeedsMultiPass(t *testing.T) {
	if needsMultiPass("short note", 100) {
		t.Fatal("short simple note should be single-pass")
	}
	if !needsMultiPass(strings.Repeat("x", 101), 100) {
		t.Fatal("over-threshold transcript should be multi-pass")
	}
	dense := strings.Repeat("Also, another thing came up. By the way, separately, moving on. ", 3)
	if !needsMultiPass(dense, 10000) {
		t.Fatal("topic-dense transcript should be multi-pass even under the length threshold")
	}
}
