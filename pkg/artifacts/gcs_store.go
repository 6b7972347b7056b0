//go:build gcp

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSBlob stores packages in a Google Cloud Storage bucket, keyed by
// package hash. Requires Application Default Credentials.
type GCSBlob struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSBlob creates a GCS-backed blob store using ADC.
func NewGCSBlob(ctx context.Context, cfg GCSConfig) (*GCSBlob, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSBlob{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *GCSBlob) objectPath(key string) string {
	return s.prefix + key + ".json"
}

// Put uploads a package unless an object with the same key already exists.
func (s *GCSBlob) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	obj := s.client.Bucket(s.bucket).Object(s.objectPath(key))
	if _, err := obj.Attrs(ctx); err == nil {
		return nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed: %w", err)
	}
	return nil
}

func (s *GCSBlob) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	obj := s.client.Bucket(s.bucket).Object(s.objectPath(key))
	reader, err := obj.NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs get failed for %s: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	//nolint:wrapcheck // caller provides context
	return io.ReadAll(reader)
}

func (s *GCSBlob) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	obj := s.client.Bucket(s.bucket).Object(s.objectPath(key))
	if _, err := obj.Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs attrs error: %w", err)
	}
	return true, nil
}

func (s *GCSBlob) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	obj := s.client.Bucket(s.bucket).Object(s.objectPath(key))
	err := obj.Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete failed for %s: %w", key, err)
	}
	return nil
}

// Close closes the GCS client.
func (s *GCSBlob) Close() error {
	return s.client.Close()
}
