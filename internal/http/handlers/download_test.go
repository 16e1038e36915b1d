package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vidgen/internal/storage"
)

func TestDownloadJob(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/clip.mp4":
			w.Header().Set("Content-Type", "video/mp4")
			_, _ = w.Write([]byte("fake-mp4-bytes"))
		case "/broken.mp4":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	tests := []struct {
		name     string
		output   string
		wantCode int
	}{
		{name: "streams asset", output: upstream.URL + "/clip.mp4", wantCode: http.StatusOK},
		{name: "upstream missing", output: upstream.URL + "/gone.mp4", wantCode: http.StatusNotFound},
		{name: "upstream error", output: upstream.URL + "/broken.mp4", wantCode: http.StatusBadGateway},
		{name: "transport error", output: closedURL + "/clip.mp4", wantCode: http.StatusBadGateway},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, succeedWith(tc.output))
			job := env.submit(t, textJob("a long enough prompt"))
			env.orch.Wait()

			rr := env.do(http.MethodGet, "/v1/download/"+job.ID, nil)
			if rr.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d; body=%s", rr.Code, tc.wantCode, rr.Body.String())
			}
			if tc.wantCode != http.StatusOK {
				return
			}
			want := `attachment; filename="video_` + job.ID + `.mp4"`
			if got := rr.Header().Get("Content-Disposition"); got != want {
				t.Fatalf("Content-Disposition = %q, want %q", got, want)
			}
			if rr.Body.String() != "fake-mp4-bytes" {
				t.Fatalf("body = %q", rr.Body.String())
			}
		})
	}
}

func TestDownloadUnfinishedOrUnknownJob(t *testing.T) {
	gen, release := gated("https://host/clip.mp4")
	defer close(release)
	env := newTestEnv(t, gen)
	job := env.submit(t, textJob("a long enough prompt"))

	if rr := env.do(http.MethodGet, "/v1/download/"+job.ID, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("pending job download status = %d", rr.Code)
	}
	if rr := env.do(http.MethodGet, "/v1/download/unknown", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown job download status = %d", rr.Code)
	}
}

func multipartImage(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

var (
	pngMagic  = []byte("\x89PNG\r\n\x1a\n")
	jpegMagic = []byte{0xff, 0xd8, 0xff, 0xe0}
)

func padded(prefix []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, prefix)
	return out
}

func TestUploadImage(t *testing.T) {
	env := newTestEnv(t, succeedWith("https://host/clip.mp4"))
	dir := t.TempDir()
	files, err := storage.NewFileStore(dir, "http://localhost:8080/static")
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	env.app.Files = files
	script := []byte("<html><script>alert(1)</script></html>")

	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		wantCode    int
		wantExt     string
	}{
		{name: "png accepted", filename: "source.png", contentType: "image/png", data: padded(pngMagic, 128), wantCode: http.StatusCreated, wantExt: ".png"},
		{name: "extension follows content", filename: "source.gif", contentType: "image/jpeg", data: padded(jpegMagic, 64), wantCode: http.StatusCreated, wantExt: ".jpg"},
		{name: "text rejected", filename: "notes.txt", contentType: "text/plain", data: []byte("hello"), wantCode: http.StatusUnsupportedMediaType},
		{name: "unlisted image type rejected", filename: "evil.html", contentType: "image/x-anything", data: script, wantCode: http.StatusUnsupportedMediaType},
		{name: "html declared as png rejected", filename: "evil.html", contentType: "image/png", data: script, wantCode: http.StatusUnsupportedMediaType},
		{name: "too large", filename: "big.jpg", contentType: "image/jpeg", data: padded(jpegMagic, maxUploadBytes+1), wantCode: http.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := multipartImage(t, tc.filename, tc.contentType, tc.data)
			rr := env.do(http.MethodPost, "/v1/uploads", body.Bytes(), "Content-Type", ct)
			if rr.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d; body=%s", rr.Code, tc.wantCode, rr.Body.String())
			}
			if tc.wantCode != http.StatusCreated {
				return
			}
			var got struct {
				Key string `json:"key"`
			}
			if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !strings.HasPrefix(got.Key, "uploads/") || !strings.HasSuffix(got.Key, tc.wantExt) {
				t.Fatalf("key = %q, want uploads/*%s", got.Key, tc.wantExt)
			}
		})
	}

	entries, err := os.ReadDir(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatalf("read uploads: %v", err)
	}
	for _, e := range entries {
		if ext := filepath.Ext(e.Name()); ext != ".png" && ext != ".jpg" {
			t.Fatalf("unexpected stored file %s", e.Name())
		}
	}
}

func TestUploadDisabled(t *testing.T) {
	env := newTestEnv(t, succeedWith("https://host/clip.mp4"))
	body, ct := multipartImage(t, "source.png", "image/png", padded(pngMagic, 16))
	rr := env.do(http.MethodPost, "/v1/uploads", body.Bytes(), "Content-Type", ct)
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rr.Code)
	}
}
