// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket string
	// PublicBaseURL, when set, replaces gs://bucket in returned links.
	PublicBaseURL string
}

// objectWriter is the slice of *storage.Writer the store needs.
type objectWriter interface {
	io.WriteCloser
}

// writerFactory opens a writer for bucket/key.
type writerFactory func(ctx context.Context, bucket, key, contentType string) objectWriter

// BlobStore writes media objects to a GCS bucket.
type BlobStore struct {
	open   writerFactory
	bucket string
	public string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return newStore(func(ctx context.Context, bucket, key, contentType string) objectWriter {
		w := client.Bucket(bucket).Object(key).NewWriter(ctx)
		if contentType != "" {
			w.ContentType = contentType
		}
		return w
	}, cfg)
}

func newStore(open writerFactory, cfg Config) (*BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{open: open, bucket: cfg.Bucket, public: strings.TrimRight(cfg.PublicBaseURL, "/")}, nil
}

// PutObject uploads data and returns its link.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	writer := s.open(ctx, s.bucket, key, contentType)
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	if s.public != "" {
		return s.public + "/" + key, nil
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}
