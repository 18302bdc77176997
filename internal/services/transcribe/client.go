package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/cenkalti/backoff/v4"

	"murmur/internal/config"
	"murmur/internal/logging"
	"murmur/internal/services"
)

const (
	defaultTimeout    = 5 * time.Minute
	defaultMaxUpload  = 25 * 1024 * 1024
	defaultChunkBytes = 20 * 1024 * 1024
	maxRetries        = 3
)

// Request describes one audio buffer to transcribe.
type Request struct {
	Data     []byte
	Filename string
	MIMEType string
	Language string // optional ISO 639-1 hint; empty means auto-detect
}

// Result is a completed transcription.
type Result struct {
	Text     string
	Language string
	Chunks   int
}

// Client uploads audio to a Whisper-compatible endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	language   string
	maxUpload  int64
	chunkBytes int64
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFromConfig builds a Client from the transcription config section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Client {
	timeout := defaultTimeout
	if cfg.Transcription.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Transcription.TimeoutSeconds) * time.Second
	}
	maxUpload := cfg.Transcription.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	chunkBytes := cfg.Transcription.ChunkBytes
	if chunkBytes <= 0 {
		chunkBytes = defaultChunkBytes
	}
	return &Client{
		baseURL:    cfg.Transcription.BaseURL,
		apiKey:     cfg.Transcription.APIKey,
		model:      cfg.Transcription.Model,
		language:   cfg.Transcription.Language,
		maxUpload:  maxUpload,
		chunkBytes: chunkBytes,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(logger, "transcribe"),
	}
}

// WithHTTPClient replaces the underlying HTTP client (used in tests).
func (c *Client) WithHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// Transcribe uploads req.Data and returns the transcript. Buffers over the
// upload cap are split into ordered chunks, transcribed sequentially, and the
// per-chunk texts merged back in order.
func (c *Client) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if len(req.Data) == 0 {
		return nil, services.Wrap(services.ErrValidation, "transcription", "transcribe", "empty audio buffer", nil)
	}
	language := req.Language
	if language == "" {
		language = c.language
	}

	if int64(len(req.Data)) <= c.maxUpload {
		text, err := c.transcribeChunk(ctx, req.Data, req.Filename, req.MIMEType, language)
		if err != nil {
			return nil, err
		}
		return &Result{Text: text, Language: language, Chunks: 1}, nil
	}

	chunks := splitChunks(req.Data, c.chunkBytes)
	c.logger.Info("audio exceeds upload cap, transcribing in chunks",
		logging.Int("size", len(req.Data)),
		logging.Int("chunks", len(chunks)),
	)
	texts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		name := fmt.Sprintf("chunk-%03d-%s", i, req.Filename)
		text, err := c.transcribeChunk(ctx, chunk, name, req.MIMEType, language)
		if err != nil {
			return nil, services.Wrap(services.ErrExternalTool, "transcription", "transcribe",
				fmt.Sprintf("chunk %d of %d failed", i+1, len(chunks)), err)
		}
		texts = append(texts, text)
	}
	return &Result{Text: mergeTexts(texts), Language: language, Chunks: len(chunks)}, nil
}

func (c *Client) transcribeChunk(ctx context.Context, data []byte, filename, mimeType, language string) (string, error) {
	var text string
	operation := func() error {
		result, err := c.post(ctx, data, filename, mimeType, language)
		if err != nil {
			return err
		}
		text = result
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return text, nil
}

func (c *Client) post(ctx context.Context, data []byte, filename, mimeType, language string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("create form file: %w", err))
	}
	if _, err := part.Write(data); err != nil {
		return "", backoff.Permanent(fmt.Errorf("write form file: %w", err))
	}
	if err := writer.WriteField("model", c.model); err != nil {
		return "", backoff.Permanent(fmt.Errorf("write model field: %w", err))
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			return "", backoff.Permanent(fmt.Errorf("write language field: %w", err))
		}
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return "", backoff.Permanent(fmt.Errorf("write response_format field: %w", err))
	}
	if err := writer.Close(); err != nil {
		return "", backoff.Permanent(fmt.Errorf("close multipart writer: %w", err))
	}

	url := c.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", backoff.Permanent(services.Wrap(services.ErrTimeout, "transcription", "upload", "request timed out", err))
		}
		return "", services.Wrap(services.ErrTransient, "transcription", "upload", "request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "transcription", "upload", "read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", services.Wrap(services.ErrTransient, "transcription", "upload",
			fmt.Sprintf("rate limit exceeded (status %d): %s", resp.StatusCode, errorDetail(payload)), nil)
	case resp.StatusCode >= 500:
		return "", services.Wrap(services.ErrExternalTool, "transcription", "upload",
			fmt.Sprintf("server error (status %d): %s", resp.StatusCode, errorDetail(payload)), nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", backoff.Permanent(services.Wrap(services.ErrConfiguration, "transcription", "upload",
			fmt.Sprintf("invalid api key (status %d)", resp.StatusCode), nil))
	default:
		return "", backoff.Permanent(services.Wrap(services.ErrValidation, "transcription", "upload",
			fmt.Sprintf("rejected (status %d): %s", resp.StatusCode, errorDetail(payload)), nil))
	}

	var parsed struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", backoff.Permanent(services.Wrap(services.ErrExternalTool, "transcription", "decode",
			"malformed response body", err))
	}
	return parsed.Text, nil
}

// errorDetail pulls the upstream error message out of an OpenAI-style error
// envelope, falling back to the raw body.
func errorDetail(payload []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if len(payload) > 200 {
		payload = payload[:200]
	}
	return string(bytes.TrimSpace(payload))
}
