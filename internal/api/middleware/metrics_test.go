package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/health/live", "/health/live"},
		{"/api/v1/images", "/api/v1/images"},
		{"/api/v1/images/5f1c2d3e-0000-4000-8000-1234567890ab", "/api/v1/images/{id}"},
		{"/api/v1/images/5f1c2d3e-0000-4000-8000-1234567890ab/binary-image", "/api/v1/images/{id}/binary-image"},
		{"/api/v1/images/5f1c2d3e-0000-4000-8000-1234567890ab/thumbnails/200", "/api/v1/images/{id}/thumbnails/{size}"},
		{"/api/v1/binary-images/0123456789abcdef", "/api/v1/binary-images/{link}"},
		{"/api/v1/binary-images/0123456789abcdef/info", "/api/v1/binary-images/{link}/info"},
		{"/media/originals/a.png", "/media/*"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, ожидается %q", tt.in, got, tt.want)
		}
	}
}

// TestRequestLogger проверяет уровень записи и поля лога.
func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nope"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/images/x", nil)
	req = req.WithContext(context.WithValue(req.Context(), ContextKeyClaims, &AuthClaims{Subject: "user-1"}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"status":404`, `"bytes":4`, `"subject":"user-1"`, `"component":"http"`} {
		if !strings.Contains(out, want) {
			t.Errorf("в логе нет %s: %s", want, out)
		}
	}
}

// TestRequestLogger_SubjectFromJWT — subject попадает в лог, когда
// JWT middleware стоит после логгера.
func TestRequestLogger_SubjectFromJWT(t *testing.T) {
	auth, key := newTestJWTAuth(t, "")
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequestLogger(logger)(auth.Middleware()(inner))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/images/x", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, key, validClaims("user-42")))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), `"subject":"user-42"`) {
		t.Errorf("в логе нет subject: %s", buf.String())
	}
}

func TestMetricsMiddleware_PassesStatus(t *testing.T) {
	handler := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/images", nil))
	if rec.Code != http.StatusCreated {
		t.Errorf("ожидался статус 201, получен %d", rec.Code)
	}
}
