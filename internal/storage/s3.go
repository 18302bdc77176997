package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"murmur/internal/services"
)

// s3API is the slice of the S3 client Download needs; tests substitute a fake.
type s3API interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store fetches recordings from S3. Locators of the form s3://bucket/key
// name their bucket explicitly; bare s3://key locators are not supported, so
// the configured default bucket is used when the parsed bucket is empty.
type S3Store struct {
	client        s3API
	defaultBucket string
}

// NewS3Store builds an S3 adapter using the ambient AWS credential chain.
func NewS3Store(ctx context.Context, bucket, region string) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Store{client: s3.NewFromConfig(cfg), defaultBucket: bucket}, nil
}

func (s *S3Store) Download(ctx context.Context, locator string) (*Object, error) {
	bucket, key, err := parseS3Locator(locator, s.defaultBucket)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "storage", "s3", "parse locator", err)
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") {
			return nil, services.Wrap(services.ErrNotFound, "storage", "s3", "recording not found: "+locator, nil)
		}
		return nil, services.Wrap(services.ErrTransient, "storage", "s3", "get object", err)
	}
	defer resp.Body.Close()

	if resp.ContentLength != nil && *resp.ContentLength > maxDownloadBytes {
		return nil, tooLarge(*resp.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "storage", "s3", "read object", err)
	}
	if int64(len(data)) > maxDownloadBytes {
		return nil, tooLarge(int64(len(data)))
	}

	contentType := ""
	if resp.ContentType != nil {
		contentType = *resp.ContentType
	}
	return &Object{Data: data, ContentType: contentType}, nil
}

func parseS3Locator(locator, defaultBucket string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(locator, "s3://")
	if trimmed == locator {
		return "", "", fmt.Errorf("not an s3 locator: %s", locator)
	}
	bucket, key, found := strings.Cut(trimmed, "/")
	if !found || key == "" {
		return "", "", fmt.Errorf("s3 locator missing key: %s", locator)
	}
	if bucket == "" {
		bucket = defaultBucket
	}
	if bucket == "" {
		return "", "", fmt.Errorf("s3 locator missing bucket and no default configured: %s", locator)
	}
	return bucket, key, nil
}
