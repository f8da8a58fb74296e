package http

import (
	"net/http"

	"github.com/GanaRepository/mintoons-sub000/internal/service"
)

// storeDegradedThreshold is the number of consecutive store failures after
// which the service reports itself unhealthy. Admissions keep failing open
// either way; the health flip is what pages an operator.
const storeDegradedThreshold = 3

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "degraded"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// HealthChecker reports quota service health.
type HealthChecker struct {
	svc     *service.AdmissionService
	version string
}

// NewHealthChecker creates a HealthChecker over the admission service.
func NewHealthChecker(svc *service.AdmissionService, version string) *HealthChecker {
	return &HealthChecker{svc: svc, version: version}
}

// Check reports the current health state.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	status := "healthy"

	failures := h.svc.ConsecutiveStoreFailures()
	switch {
	case failures == 0:
		checks["counter_store"] = "ok"
	case failures < storeDegradedThreshold:
		checks["counter_store"] = "recent failures"
	default:
		checks["counter_store"] = "unavailable (failing open)"
		status = "degraded"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// ServeHTTP serves the /health endpoint. A degraded store reports 503 so
// load-balancer checks surface the outage, even though admissions continue
// to fail open.
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.Check()
	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
