package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"murmur/internal/config"
	"murmur/internal/logging"
	"murmur/internal/services"
)

// Object is one downloaded recording.
type Object struct {
	Data        []byte
	ContentType string
}

// Store downloads the bytes a locator points at.
type Store interface {
	Download(ctx context.Context, locator string) (*Object, error)
}

// Resolver dispatches to the adapter matching the locator scheme. The S3
// client is built on first use so filesystem-only deployments never touch the
// AWS SDK.
type Resolver struct {
	fs     *FSStore
	http   *HTTPStore
	logger *slog.Logger

	s3Bucket string
	s3Region string
	s3Once   sync.Once
	s3Store  *S3Store
	s3Err    error
}

// NewResolver builds a Resolver from the storage config section.
func NewResolver(cfg *config.Config, logger *slog.Logger) *Resolver {
	return &Resolver{
		fs:       NewFSStore(cfg.Paths.MediaDir),
		http:     NewHTTPStore(&http.Client{Timeout: 2 * time.Minute}),
		logger:   logging.NewComponentLogger(logger, "storage"),
		s3Bucket: cfg.Storage.S3Bucket,
		s3Region: cfg.Storage.S3Region,
	}
}

// Download routes the locator to the matching adapter.
func (r *Resolver) Download(ctx context.Context, locator string) (*Object, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, services.Wrap(services.ErrValidation, "storage", "download", "empty locator", nil)
	}
	switch {
	case strings.HasPrefix(locator, "s3://"):
		store, err := r.s3(ctx)
		if err != nil {
			return nil, err
		}
		return store.Download(ctx, locator)
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		return r.http.Download(ctx, locator)
	default:
		return r.fs.Download(ctx, locator)
	}
}

func (r *Resolver) s3(ctx context.Context) (*S3Store, error) {
	r.s3Once.Do(func() {
		r.s3Store, r.s3Err = NewS3Store(ctx, r.s3Bucket, r.s3Region)
		if r.s3Err == nil {
			r.logger.Info("s3 storage adapter ready",
				logging.String("bucket", r.s3Bucket),
				logging.String("region", r.s3Region),
			)
		}
	})
	if r.s3Err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "s3", "initialize s3 client", r.s3Err)
	}
	return r.s3Store, nil
}

// maxDownloadBytes caps how much any adapter will pull into memory.
const maxDownloadBytes = 512 * 1024 * 1024

func tooLarge(size int64) error {
	return services.Wrap(services.ErrValidation, "storage", "download",
		fmt.Sprintf("object is %d bytes, cap is %d", size, maxDownloadBytes), nil)
}
