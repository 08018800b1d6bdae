// health.go — проверки liveness/readiness для Kubernetes и метрики Prometheus.
package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/caseflow/intake-module/internal/config"
)

const serviceName = "intake-module"

// Статусы готовности.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// ReadinessChecker — проверка готовности обязательной зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус (ok, degraded, fail) и пояснение.
	CheckReady() (status string, message string)
}

// DependencyHealth — снимок dephealth по внешним сервисам.
type DependencyHealth interface {
	Health() map[string]bool
}

type namedCheck struct {
	name    string
	checker ReadinessChecker
}

// HealthHandler — /health/live, /health/ready и /metrics.
type HealthHandler struct {
	checks      []namedCheck
	deps        DependencyHealth
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик. nil checker считается недоступной
// зависимостью, deps необязателен и на итоговый статус не влияет.
func NewHealthHandler(pgChecker, kcChecker ReadinessChecker, deps DependencyHealth) *HealthHandler {
	return &HealthHandler{
		checks: []namedCheck{
			{name: "postgresql", checker: pgChecker},
			{name: "keycloak", checker: kcChecker},
		},
		deps:        deps,
		promHandler: promhttp.Handler(),
	}
}

type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status       string                 `json:"status"`
	Service      string                 `json:"service"`
	Version      string                 `json:"version"`
	Timestamp    string                 `json:"timestamp"`
	Checks       map[string]checkResult `json:"checks,omitempty"`
	Dependencies map[string]bool        `json:"dependencies,omitempty"`
}

func newHealthResponse() healthResponse {
	return healthResponse{
		Service:   serviceName,
		Version:   config.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// HealthLive — процесс жив, зависимости не проверяются.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	resp := newHealthResponse()
	resp.Status = statusOK
	writeJSON(w, http.StatusOK, resp)
}

// HealthReady — 200 при ok/degraded, 503 если PostgreSQL или Keycloak недоступны.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	resp := newHealthResponse()
	resp.Checks = make(map[string]checkResult, len(h.checks))

	statuses := make([]string, 0, len(h.checks))
	for _, c := range h.checks {
		res := checkResult{Status: statusFail, Message: "не инициализирован"}
		if c.checker != nil {
			res.Status, res.Message = c.checker.CheckReady()
		}
		resp.Checks[c.name] = res
		statuses = append(statuses, res.Status)
	}
	if h.deps != nil {
		resp.Dependencies = h.deps.Health()
	}
	resp.Status = overallStatus(statuses...)

	code := http.StatusOK
	if resp.Status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus: любой fail даёт fail, иначе любой degraded даёт degraded.
func overallStatus(statuses ...string) string {
	result := statusOK
	for _, s := range statuses {
		switch s {
		case statusFail:
			return statusFail
		case statusDegraded:
			result = statusDegraded
		}
	}
	return result
}
