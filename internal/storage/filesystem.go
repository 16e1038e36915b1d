package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrTooLarge is returned when an upload exceeds the caller's size limit.
var ErrTooLarge = errors.New("storage: object exceeds size limit")

// FileStore persists uploaded source images onto the local filesystem and
// serves them back under a public base URL.
type FileStore struct {
	basePath string
	baseURL  string
}

// NewFileStore initializes a FileStore rooted at basePath whose objects are
// reachable under baseURL.
func NewFileStore(basePath, baseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// URL returns the public locator of a stored key.
func (s *FileStore) URL(key string) string {
	return s.baseURL + "/" + strings.TrimLeft(key, "/")
}

// Save streams r to the given relative key, refusing more than maxBytes, and
// returns the canonical key and the number of bytes written. A partial file
// is removed on failure.
func (s *FileStore) Save(ctx context.Context, key string, r io.Reader, maxBytes int64) (string, int64, error) {
	if s == nil {
		return "", 0, errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", 0, err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", 0, fmt.Errorf("storage: ensure directory: %w", err)
	}
	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("storage: create file: %w", err)
	}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	n, err := io.Copy(f, src)
	closeErr := f.Close()
	switch {
	case err != nil:
		err = fmt.Errorf("storage: write file: %w", err)
	case maxBytes > 0 && n > maxBytes:
		err = ErrTooLarge
	case closeErr != nil:
		err = fmt.Errorf("storage: close file: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(fullPath)
		return "", 0, err
	}
	return cleanKey, n, nil
}

// Handler serves stored objects; mount it behind http.StripPrefix.
// Responses are marked nosniff so browsers honour the extension-derived type.
func (s *FileStore) Handler() http.Handler {
	files := http.FileServer(http.Dir(s.basePath))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		files.ServeHTTP(w, r)
	})
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
