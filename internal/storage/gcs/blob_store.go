// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
)

// Config captures the parameters required to connect to object storage.
type Config struct {
	Bucket    string
	Prefix    string
	ProjectID string
}

// BlobStore writes artifacts to a configured bucket. It holds the
// highest-privilege client plus an optional fallback used when the primary
// credential is denied write access.
type BlobStore struct {
	primary  *storage.Client
	fallback *storage.Client
	cfg      Config
	logger   *zap.Logger
}

// New creates a bucket-backed blob store. fallback may be nil.
func New(primary, fallback *storage.Client, cfg Config, logger *zap.Logger) (*BlobStore, error) {
	if primary == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobStore{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// EnsureBucket creates the target bucket if it does not exist yet.
// Safe to call repeatedly; only the first upload in a run pays for it.
func (s *BlobStore) EnsureBucket(ctx context.Context) error {
	bkt := s.primary.Bucket(s.cfg.Bucket)
	_, err := bkt.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("check bucket %s: %w", s.cfg.Bucket, err)
	}
	if createErr := bkt.Create(ctx, s.cfg.ProjectID, nil); createErr != nil {
		// A concurrent creator winning the race is fine.
		if isConflict(createErr) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, createErr)
	}
	return nil
}

// Put uploads data under the configured prefix and returns the object path.
// On a permission-denied response from the primary credential it retries
// through the fallback client instead of failing immediately.
func (s *BlobStore) Put(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("object key is required")
	}
	path := key
	if s.cfg.Prefix != "" {
		path = strings.TrimSuffix(s.cfg.Prefix, "/") + "/" + key
	}

	err := s.write(ctx, s.primary, path, contentType, data)
	if err == nil {
		return path, nil
	}
	if !isPermissionDenied(err) || s.fallback == nil {
		return "", err
	}

	s.logger.Warn("primary storage credential denied, retrying via fallback",
		zap.String("path", path))
	if err := s.write(ctx, s.fallback, path, contentType, data); err != nil {
		return "", fmt.Errorf("fallback upload: %w", err)
	}
	return path, nil
}

func (s *BlobStore) write(ctx context.Context, client *storage.Client, path, contentType string, data []byte) error {
	writer := client.Bucket(s.cfg.Bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

func isPermissionDenied(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusForbidden
	}
	return false
}

func isConflict(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusConflict
	}
	return false
}
