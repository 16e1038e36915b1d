package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/google/uuid"

	"vidgen/internal/storage"
)

const maxUploadBytes = 10 << 20

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// UploadImage stores a source image for image-sourced jobs and returns its
// public URL.
func (a *App) UploadImage(w http.ResponseWriter, r *http.Request) {
	if a.Files == nil {
		a.error(w, http.StatusNotImplemented, "not_implemented", "uploads are disabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "expected multipart form with an image field")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "image field is required")
		return
	}
	defer file.Close()

	declared := header.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(declared); err == nil {
		declared = mt
	}
	if _, ok := imageExtensions[declared]; !ok {
		a.error(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "only png, jpeg, webp and gif images are accepted")
		return
	}
	contentType, err := sniffImage(file)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read image")
		return
	}
	ext, ok := imageExtensions[contentType]
	if !ok {
		a.error(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "file content is not a supported image")
		return
	}

	key := "uploads/" + uuid.NewString() + ext
	key, n, err := a.Files.Save(r.Context(), key, file, maxUploadBytes)
	if errors.Is(err, storage.ErrTooLarge) {
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", "image exceeds 10MB")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Msg("upload: save image")
		a.error(w, http.StatusInternalServerError, "internal", "failed to store image")
		return
	}
	a.json(w, http.StatusCreated, map[string]any{
		"key":   key,
		"url":   a.Files.URL(key),
		"bytes": n,
		"mime":  contentType,
	})
}

// sniffImage detects the media type from the leading bytes and rewinds file.
func sniffImage(file io.ReadSeeker) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}
