package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/imagehost/internal/domain/model"
	"github.com/bigkaa/imagehost/internal/storage/filestore"
)

func newTestFileServer(t *testing.T, showIndexes bool) (*FileServer, *filestore.FileStore) {
	t.Helper()
	files, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	ctx := context.Background()
	for key, body := range map[string]string{
		"originals/a.png":        "png-data",
		"originals/sub/b.jpeg":   "jpeg-data",
		"originals/photo.png.gz": "gz-data",
		"originals/notes.weird1": "???",
		"binary/secret.jpeg":     "secret",
		"originals/.hidden":      "h",
	} {
		if err := files.Put(ctx, key, strings.NewReader(body), int64(len(body)), ""); err != nil {
			t.Fatalf("ошибка записи %s: %v", key, err)
		}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFileServer(files, "originals", showIndexes, logger), files
}

var testUser = &model.User{ID: "user-1"}

func serve(fs *FileServer, u *model.User, rel string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/media/"+rel, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	fs.Serve(rec, req, u, rel)
	return rec
}

func TestFileServer_Serve(t *testing.T) {
	fs, _ := newTestFileServer(t, false)

	tests := []struct {
		name     string
		user     *model.User
		rel      string
		wantCode int
		wantBody string
		wantType string
		wantEnc  string
	}{
		{"anonymous", nil, "a.png", http.StatusForbidden, "AUTHENTICATION_FAILED", "", ""},
		{"png", testUser, "a.png", http.StatusOK, "png-data", "image/png", ""},
		{"nested", testUser, "sub/b.jpeg", http.StatusOK, "jpeg-data", "image/jpeg", ""},
		{"leading slash", testUser, "/a.png", http.StatusOK, "png-data", "image/png", ""},
		{"gzip encoding", testUser, "photo.png.gz", http.StatusOK, "gz-data", "image/png", "gzip"},
		{"unknown type", testUser, "notes.weird1", http.StatusOK, "???", "application/octet-stream", ""},
		{"missing", testUser, "nope.png", http.StatusNotFound, "NOT_FOUND", "", ""},
		{"directory", testUser, "sub", http.StatusNotFound, "NOT_FOUND", "", ""},
		{"traversal", testUser, "../binary/secret.jpeg", http.StatusBadRequest, "VALIDATION_ERROR", "", ""},
		{"deep traversal", testUser, "sub/../../binary/secret.jpeg", http.StatusBadRequest, "VALIDATION_ERROR", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(fs, tt.user, tt.rel, nil)

			if rec.Code != tt.wantCode {
				t.Fatalf("статус = %d, ожидается %d, тело: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("тело %q не содержит %q", rec.Body.String(), tt.wantBody)
			}
			if tt.wantType != "" && rec.Header().Get("Content-Type") != tt.wantType {
				t.Errorf("Content-Type = %q, ожидается %q", rec.Header().Get("Content-Type"), tt.wantType)
			}
			if rec.Header().Get("Content-Encoding") != tt.wantEnc {
				t.Errorf("Content-Encoding = %q, ожидается %q", rec.Header().Get("Content-Encoding"), tt.wantEnc)
			}
			if tt.wantCode == http.StatusOK && rec.Header().Get("Last-Modified") == "" {
				t.Error("отсутствует Last-Modified")
			}
		})
	}
}

func TestFileServer_IfModifiedSince(t *testing.T) {
	fs, files := newTestFileServer(t, false)

	info, err := files.Stat(context.Background(), "originals/a.png")
	if err != nil {
		t.Fatal(err)
	}

	current := http.Header{"If-Modified-Since": {info.ModTime.UTC().Format(http.TimeFormat)}}
	rec := serve(fs, testUser, "a.png", current)
	if rec.Code != http.StatusNotModified {
		t.Errorf("актуальная копия: статус = %d, ожидается 304", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("304 с телом: %q", rec.Body.String())
	}

	stale := http.Header{"If-Modified-Since": {info.ModTime.Add(-time.Hour).UTC().Format(http.TimeFormat)}}
	if rec := serve(fs, testUser, "a.png", stale); rec.Code != http.StatusOK {
		t.Errorf("устаревшая копия: статус = %d, ожидается 200", rec.Code)
	}

	garbage := http.Header{"If-Modified-Since": {"вчера"}}
	if rec := serve(fs, testUser, "a.png", garbage); rec.Code != http.StatusOK {
		t.Errorf("некорректный заголовок: статус = %d, ожидается 200", rec.Code)
	}
}

func TestFileServer_DirectoryIndex(t *testing.T) {
	fs, _ := newTestFileServer(t, true)

	rec := serve(fs, testUser, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{"a.png", "sub/", "photo.png.gz"} {
		if !strings.Contains(body, want) {
			t.Errorf("листинг не содержит %q: %s", want, body)
		}
	}
	if strings.Contains(body, ".hidden") {
		t.Error("листинг содержит скрытый файл")
	}
	if strings.Contains(body, "secret") {
		t.Error("листинг вышел за пределы корня")
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestFileServer_DirectoryIndexSubdir(t *testing.T) {
	fs, _ := newTestFileServer(t, true)

	rec := serve(fs, testUser, "sub", nil)
	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("без завершающего /: статус = %d, ожидается 301", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "sub/" {
		t.Errorf("Location = %q, ожидается sub/", loc)
	}

	rec = serve(fs, testUser, "sub/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); !strings.Contains(body, `href="b.jpeg"`) || !strings.Contains(body, `href="../"`) {
		t.Errorf("неожиданный листинг: %s", body)
	}
}

func TestFileServer_ServeKey(t *testing.T) {
	fs, _ := newTestFileServer(t, false)
	ks := NewFileServer(fs.files, "", false, fs.logger)

	rec := httptest.NewRecorder()
	ks.ServeKey(rec, httptest.NewRequest(http.MethodGet, "/x", nil), "binary/secret.jpeg")
	if rec.Code != http.StatusOK || rec.Body.String() != "secret" {
		t.Errorf("ServeKey: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	ks.ServeKey(rec, httptest.NewRequest(http.MethodGet, "/x", nil), "binary")
	if rec.Code != http.StatusNotFound {
		t.Errorf("ServeKey директории: статус = %d, ожидается 404", rec.Code)
	}
}

func TestGuessType(t *testing.T) {
	tests := []struct {
		name, wantType, wantEnc string
	}{
		{"a.png", "image/png", ""},
		{"A.JPEG", "image/jpeg", ""},
		{"a.png.gz", "image/png", "gzip"},
		{"a.bz2", "application/octet-stream", "bzip2"},
		{"noext", "application/octet-stream", ""},
	}
	for _, tt := range tests {
		ct, enc := guessType(tt.name)
		if ct != tt.wantType || enc != tt.wantEnc {
			t.Errorf("guessType(%q) = (%q, %q), ожидается (%q, %q)", tt.name, ct, enc, tt.wantType, tt.wantEnc)
		}
	}
}
