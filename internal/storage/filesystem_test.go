package storage

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "uploads/a.png", want: "uploads/a.png"},
		{key: "/uploads//b.png", want: "uploads/b.png"},
		{key: `uploads\c.png`, want: "uploads/c.png"},
		{key: "../etc/passwd", wantErr: true},
		{key: "..", wantErr: true},
		{key: " ", wantErr: true},
	}
	for _, tc := range tests {
		got, err := sanitizeKey(tc.key)
		if tc.wantErr {
			if err == nil {
				t.Errorf("sanitizeKey(%q) expected error", tc.key)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("sanitizeKey(%q) = (%q, %v), want %q", tc.key, got, err, tc.want)
		}
	}
}

func TestSaveAndServe(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, "http://localhost:8080/static/")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	key, n, err := s.Save(context.Background(), "uploads/x.png", strings.NewReader("png-bytes"), 1024)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if key != "uploads/x.png" || n != 9 {
		t.Fatalf("Save() = (%q, %d)", key, n)
	}
	if got := s.URL(key); got != "http://localhost:8080/static/uploads/x.png" {
		t.Fatalf("URL() = %q", got)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/static/uploads/x.png", nil)
	http.StripPrefix("/static", s.Handler()).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "png-bytes" {
		t.Fatalf("serve status=%d body=%q", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
}

func TestSaveRejectsOversized(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(dir, "")
	_, _, err := s.Save(context.Background(), "big.bin", bytes.NewReader(make([]byte, 11)), 10)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "big.bin")); !os.IsNotExist(statErr) {
		t.Fatalf("partial file should be removed")
	}
}
