// health.go — обработчики health endpoints imagehost.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (PostgreSQL, JWKS IdP, хранилище)
// /metrics — Prometheus метрики
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/imagehost/internal/config"
	"github.com/bigkaa/imagehost/internal/storage"
)

// Константы статусов health check.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// readinessTimeout — общий таймаут проверок readiness.
const readinessTimeout = 5 * time.Second

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady(ctx context.Context) (status, message string)
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	pgChecker   ReadinessChecker
	idpChecker  ReadinessChecker
	files       storage.Storage
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// pgChecker обязателен для статуса ok (nil — readiness вернёт "fail"),
// idpChecker и files — опциональны, их отказ даёт "degraded".
func NewHealthHandler(pgChecker, idpChecker ReadinessChecker, files storage.Storage) *HealthHandler {
	return &HealthHandler{
		pgChecker:   pgChecker,
		idpChecker:  idpChecker,
		files:       files,
		promHandler: promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "imagehost",
	})
}

// HealthReady — readiness probe.
// Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "imagehost",
		Checks:    make(map[string]healthCheckResult, 3),
	}

	statuses := make([]string, 0, 3)

	if h.pgChecker != nil {
		st, msg := h.pgChecker.CheckReady(ctx)
		resp.Checks["postgresql"] = healthCheckResult{Status: st, Message: msg}
		statuses = append(statuses, st)
	} else {
		resp.Checks["postgresql"] = healthCheckResult{Status: statusFail, Message: "не инициализирован"}
		statuses = append(statuses, statusFail)
	}

	// IdP и хранилище не блокируют трафик: их отказ понижает статус до degraded
	if h.idpChecker != nil {
		st, msg := h.idpChecker.CheckReady(ctx)
		resp.Checks["idp"] = healthCheckResult{Status: st, Message: msg}
		statuses = append(statuses, softStatus(st))
	}
	if h.files != nil {
		res := h.checkStorage(ctx)
		resp.Checks["storage"] = res
		statuses = append(statuses, softStatus(res.Status))
	}

	resp.Status = overallStatus(statuses...)

	w.Header().Set("Content-Type", "application/json")
	if resp.Status == statusFail {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// checkStorage проверяет доступность корня хранилища.
func (h *HealthHandler) checkStorage(ctx context.Context) healthCheckResult {
	if _, err := h.files.Stat(ctx, ""); err != nil {
		return healthCheckResult{Status: statusFail, Message: "хранилище недоступно: " + err.Error()}
	}
	return healthCheckResult{Status: statusOK}
}

func softStatus(s string) string {
	if s == statusFail {
		return statusDegraded
	}
	return s
}

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail — итог fail.
// Если хотя бы одна degraded — итог degraded.
// Иначе — ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == statusDegraded {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}
