package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
)

const gcsPublicBase = "https://storage.googleapis.com"

// GCSBackend stores objects in a Cloud Storage bucket.
type GCSBackend struct {
	client     *gcs.Client
	bucket     string
	publicBase string
}

// NewGCSBackend constructs a backend for bucket. An empty publicBase serves objects from
// storage.googleapis.com; a custom base (CDN, load balancer) is used verbatim without the bucket.
func NewGCSBackend(client *gcs.Client, bucket, publicBase string) (*GCSBackend, error) {
	if client == nil {
		return nil, errors.New("storage: gcs client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	return &GCSBackend{client: client, bucket: bucket, publicBase: strings.TrimSpace(publicBase)}, nil
}

// Put writes data to path, refusing to overwrite an existing object.
func (b *GCSBackend) Put(ctx context.Context, path, contentType string, data []byte) error {
	w := b.client.Bucket(b.bucket).Object(path).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000, immutable"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close object writer: %w", err)
	}
	return nil
}

// PublicURL implements Backend.
func (b *GCSBackend) PublicURL(path string) string {
	if b.publicBase != "" {
		return publicObjectURL(b.publicBase, "", path)
	}
	return publicObjectURL(gcsPublicBase, b.bucket, path)
}
