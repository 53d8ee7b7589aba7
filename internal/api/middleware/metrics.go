// metrics.go — Prometheus HTTP метрики imagehost.
// Регистрирует метрики: ih_http_requests_total, ih_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/imagehost/internal/domain/binarylink"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ih_http_requests_total",
			Help: "Общее количество HTTP-запросов к imagehost",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ih_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к imagehost в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			status := strconv.Itoa(wrapped.statusCode)
			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath заменяет переменные сегменты пути шаблонами:
// /api/v1/images/{uuid}/thumbnails/200 → /api/v1/images/{id}/thumbnails/{size}
// /api/v1/binary-images/{link}/info    → /api/v1/binary-images/{link}/info
// /media/originals/x.png               → /media/*
func normalizePath(path string) string {
	if strings.HasPrefix(path, "/media/") {
		return "/media/*"
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		switch {
		case seg == "":
		case isUUID(seg):
			segments[i] = "{id}"
		case binarylink.IsValid(seg):
			segments[i] = "{link}"
		case i > 0 && segments[i-1] == "thumbnails":
			segments[i] = "{size}"
		}
	}
	return strings.Join(segments, "/")
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
