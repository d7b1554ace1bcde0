package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrUnsupportedContentType is returned for uploads that are not jpeg, png or webp images.
	ErrUnsupportedContentType = errors.New("storage: unsupported content type")
	// ErrTooLarge is returned when an upload exceeds the configured size limit.
	ErrTooLarge = errors.New("storage: object too large")
	// ErrEmpty is returned for zero-byte uploads.
	ErrEmpty = errors.New("storage: object is empty")
)

var photoExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// Backend writes bytes to an object store and reports the public URL of stored objects.
type Backend interface {
	Put(ctx context.Context, path, contentType string, data []byte) error
	PublicURL(path string) string
}

// StoredObject describes an uploaded photo.
type StoredObject struct {
	StoragePath string
	PublicURL   string
	ContentType string
	Size        int64
}

// PhotoStore validates and uploads order photos.
type PhotoStore struct {
	backend  Backend
	maxBytes int64
	timeout  time.Duration
	now      func() time.Time
}

// PhotoStoreOption customises PhotoStore.
type PhotoStoreOption func(*PhotoStore)

// WithMaxBytes caps upload size.
func WithMaxBytes(n int64) PhotoStoreOption {
	return func(s *PhotoStore) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithUploadTimeout bounds backend writes.
func WithUploadTimeout(d time.Duration) PhotoStoreOption {
	return func(s *PhotoStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the time source used for object paths.
func WithClock(now func() time.Time) PhotoStoreOption {
	return func(s *PhotoStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewPhotoStore constructs a PhotoStore over backend.
func NewPhotoStore(backend Backend, opts ...PhotoStoreOption) (*PhotoStore, error) {
	if backend == nil {
		return nil, errors.New("storage: backend is required")
	}
	s := &PhotoStore{backend: backend, maxBytes: 8 << 20, timeout: 30 * time.Second, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// MaxBytes reports the configured upload limit.
func (s *PhotoStore) MaxBytes() int64 { return s.maxBytes }

// UploadPhoto sniffs the content type, enforces the size limit and writes the object.
func (s *PhotoStore) UploadPhoto(ctx context.Context, r io.Reader) (StoredObject, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return StoredObject{}, fmt.Errorf("storage: read upload: %w", err)
	}
	if len(data) == 0 {
		return StoredObject{}, ErrEmpty
	}
	if int64(len(data)) > s.maxBytes {
		return StoredObject{}, ErrTooLarge
	}

	contentType := sniffContentType(data)
	ext, ok := photoExtensions[contentType]
	if !ok {
		return StoredObject{}, fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}

	path, err := BuildObjectPath(PurposeOrderPhoto, PathParams{Extension: ext, At: s.now()})
	if err != nil {
		return StoredObject{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.backend.Put(ctx, path, contentType, data); err != nil {
		return StoredObject{}, fmt.Errorf("storage: upload %s: %w", path, err)
	}
	return StoredObject{
		StoragePath: path,
		PublicURL:   s.backend.PublicURL(path),
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

// sniffContentType matches the RIFF/WEBP container explicitly before falling back to http.DetectContentType.
func sniffContentType(data []byte) string {
	if len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return "image/webp"
	}
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

func publicObjectURL(base, bucket, path string) string {
	base = strings.TrimRight(base, "/")
	if bucket == "" {
		return base + "/" + path
	}
	return base + "/" + bucket + "/" + path
}
