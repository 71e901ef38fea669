package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

// GCSStore keeps objects in a Google Cloud Storage bucket
type GCSStore struct {
	client *storage.Client
	bucket string
	logger *slog.Logger
}

// GCSConfig configures a GCSStore
type GCSConfig struct {
	Bucket          string
	CredentialsFile string
	Endpoint        string // emulator endpoint
}

// NewGCSStore opens a client for cfg.Bucket
func NewGCSStore(ctx context.Context, cfg GCSConfig, logger *slog.Logger) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, domain.NewError(domain.CodeStorageConfigError, "storage bucket is not configured")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	logger.Info("GCS storage ready",
		slog.String("bucket", cfg.Bucket),
	)
	return &GCSStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Close releases the client
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Bucket returns the default bucket name
func (s *GCSStore) Bucket() string {
	return s.bucket
}

// Read downloads an object from the default bucket
func (s *GCSStore) Read(ctx context.Context, path string) ([]byte, error) {
	return s.ReadFrom(ctx, s.bucket, path)
}

// ReadFrom downloads an object from any bucket the client can reach
func (s *GCSStore) ReadFrom(ctx context.Context, bucket, path string) ([]byte, error) {
	r, err := s.client.Bucket(bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("gs://%s/%s: %w", bucket, path, domain.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to download object: %w", err)
	}
	return data, nil
}

// Write uploads data in a single request
func (s *GCSStore) Write(ctx context.Context, path string, data []byte, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType
	w.ChunkSize = 0

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize upload: %w", err)
	}

	s.logger.Debug("Object uploaded",
		slog.String("path", path),
		slog.Int("bytes", len(data)),
	)
	return nil
}

// Exists reports whether path is present in the default bucket
func (s *GCSStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

// SignedURL issues a V4 read URL valid for ttl
func (s *GCSStore) SignedURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	url, err := s.client.Bucket(s.bucket).SignedURL(path, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", domain.WrapError(domain.CodeStorageConfigError, "failed to sign storage url", err)
	}
	return url, nil
}
