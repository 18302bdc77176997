package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"murmur/internal/services"
)

// HTTPStore fetches recordings over plain HTTP GET.
type HTTPStore struct {
	client *http.Client
}

// NewHTTPStore wraps client; a nil client falls back to http.DefaultClient.
func NewHTTPStore(client *http.Client) *HTTPStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPStore{client: client}
}

func (s *HTTPStore) Download(ctx context.Context, locator string) (*Object, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "storage", "http", "build request", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "storage", "http", "fetch recording", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, services.Wrap(services.ErrNotFound, "storage", "http", "recording not found: "+locator, nil)
	case resp.StatusCode >= 500:
		return nil, services.Wrap(services.ErrTransient, "storage", "http",
			fmt.Sprintf("server error (status %d)", resp.StatusCode), nil)
	default:
		return nil, services.Wrap(services.ErrValidation, "storage", "http",
			fmt.Sprintf("rejected (status %d)", resp.StatusCode), nil)
	}
	if resp.ContentLength > maxDownloadBytes {
		return nil, tooLarge(resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "storage", "http", "read body", err)
	}
	if int64(len(data)) > maxDownloadBytes {
		return nil, tooLarge(int64(len(data)))
	}
	return &Object{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}
