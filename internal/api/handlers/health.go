// health.go — обработчики health endpoints Sachet.
// /health/live — процесс жив; /health/ready — PostgreSQL доступен;
// /metrics — Prometheus метрики.
package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dogeystamp/sachet-server/internal/config"
)

// serviceName — имя сервиса в ответах health.
const serviceName = "sachet"

// Статусы проверки зависимостей.
const (
	statusOK   = "ok"
	statusFail = "fail"
)

// ReadinessChecker — проверка готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "fail") и сообщение.
	CheckReady() (status, message string)
}

// DependencyReporter — последнее состояние фоновых проверок зависимостей.
// Реализуется service.DephealthService.
type DependencyReporter interface {
	Health() map[string]bool
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	pgChecker   ReadinessChecker
	deps        DependencyReporter
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// pgChecker может быть nil: readiness тогда вернёт fail.
// deps может быть nil, если мониторинг зависимостей не запущен.
func NewHealthHandler(pgChecker ReadinessChecker, deps DependencyReporter) *HealthHandler {
	return &HealthHandler{
		pgChecker:   pgChecker,
		deps:        deps,
		promHandler: promhttp.Handler(),
	}
}

type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	Checks    *struct {
		PostgreSQL healthCheckResult `json:"postgresql"`
	} `json:"checks,omitempty"`
	// Dependencies — результаты topologymetrics; на статус не влияют
	Dependencies map[string]bool `json:"dependencies,omitempty"`
}

func newHealthResponse() healthResponse {
	return healthResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}
}

// Live — liveness probe. Всегда 200.
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newHealthResponse())
}

// Ready — readiness probe. 503, если PostgreSQL недоступен.
func (h *HealthHandler) Ready(w http.ResponseWriter, _ *http.Request) {
	resp := newHealthResponse()
	resp.Checks = &struct {
		PostgreSQL healthCheckResult `json:"postgresql"`
	}{}

	if h.pgChecker != nil {
		st, msg := h.pgChecker.CheckReady()
		resp.Checks.PostgreSQL = healthCheckResult{Status: st, Message: msg}
	} else {
		resp.Checks.PostgreSQL = healthCheckResult{Status: statusFail, Message: "не инициализирован"}
	}

	if h.deps != nil {
		resp.Dependencies = h.deps.Health()
	}

	status := http.StatusOK
	if resp.Checks.PostgreSQL.Status != statusOK {
		resp.Status = statusFail
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Metrics — Prometheus метрики.
func (h *HealthHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}
