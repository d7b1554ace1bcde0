package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pulsera/api/internal/platform/httpx"
	"github.com/pulsera/api/internal/platform/storage"
)

const (
	multipartOverhead = 64 * 1024
	uploadFormField   = "file"
)

// PhotoUploader stores customer photos.
type PhotoUploader interface {
	UploadPhoto(ctx context.Context, r io.Reader) (storage.StoredObject, error)
	MaxBytes() int64
}

// UploadHandlers accepts photo uploads referenced later by checkout items.
type UploadHandlers struct {
	photos PhotoUploader
}

// NewUploadHandlers constructs upload handlers.
func NewUploadHandlers(photos PhotoUploader) *UploadHandlers {
	return &UploadHandlers{photos: photos}
}

// Routes registers the /uploads endpoints.
func (h *UploadHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/photos", h.uploadPhoto)
}

type uploadResponse struct {
	StoragePath string `json:"storage_path"`
	PublicURL   string `json:"public_url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

func (h *UploadHandlers) uploadPhoto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.photos == nil {
		httpx.WriteError(ctx, w, httpx.NewError("storage_unavailable", "photo storage unavailable", http.StatusServiceUnavailable))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.photos.MaxBytes()+multipartOverhead)
	file, _, err := r.FormFile(uploadFormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("file_too_large", "photo exceeds the size limit", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", "multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	stored, err := h.photos.UploadPhoto(ctx, file)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("file_too_large", "photo exceeds the size limit", http.StatusRequestEntityTooLarge))
		case errors.Is(err, storage.ErrUnsupportedContentType):
			httpx.WriteError(ctx, w, httpx.NewError("unsupported_media_type", "only jpeg, png and webp images are accepted", http.StatusUnsupportedMediaType))
		case errors.Is(err, storage.ErrEmpty):
			httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", "file is empty"))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("upload_failed", "photo could not be stored", http.StatusBadGateway))
		}
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, uploadResponse{
		StoragePath: stored.StoragePath,
		PublicURL:   stored.PublicURL,
		ContentType: stored.ContentType,
		Size:        stored.Size,
	})
}
