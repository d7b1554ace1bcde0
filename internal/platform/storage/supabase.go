package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	storage_go "github.com/supabase-community/storage-go"
)

type supabaseUploader interface {
	UploadFile(bucketID, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
}

// SupabaseBackend stores objects in a Supabase Storage bucket.
type SupabaseBackend struct {
	client     supabaseUploader
	bucket     string
	projectURL string
	publicBase string
}

// NewSupabaseBackend constructs a backend from the project URL and service key.
func NewSupabaseBackend(projectURL, serviceKey, bucket, publicBase string) (*SupabaseBackend, error) {
	projectURL = strings.TrimRight(strings.TrimSpace(projectURL), "/")
	if projectURL == "" || strings.TrimSpace(serviceKey) == "" {
		return nil, errors.New("storage: supabase url and key are required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	return &SupabaseBackend{
		client:     storage_go.NewClient(projectURL+"/storage/v1", serviceKey, nil),
		bucket:     bucket,
		projectURL: projectURL,
		publicBase: strings.TrimSpace(publicBase),
	}, nil
}

// Put implements Backend. The storage client does not accept a context; the caller's deadline
// is checked before the request is issued.
func (b *SupabaseBackend) Put(ctx context.Context, path, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	upsert := false
	if _, err := b.client.UploadFile(b.bucket, path, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	}); err != nil {
		return fmt.Errorf("supabase upload: %w", err)
	}
	return nil
}

// PublicURL implements Backend.
func (b *SupabaseBackend) PublicURL(path string) string {
	if b.publicBase != "" {
		return publicObjectURL(b.publicBase, "", path)
	}
	return publicObjectURL(b.projectURL+"/storage/v1/object/public", b.bucket, path)
}
