package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/probelab/delver/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /healthz.
// Returns a minimal, safe response suitable for unauthenticated access.
// Only delver's own components (scheduler, flow manager, event stream)
// are checked. External dependencies (model providers, search backends)
// are excluded to prevent an orchestrator from restarting delver when
// an external service is unhealthy; their circuit breakers are reported
// as informational state that never degrades the overall status.
func (s *Server) healthHandler(c *echo.Context) error {
	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.flows == nil {
		status = healthStatusUnhealthy
		checks["flows"] = HealthCheck{Status: healthStatusUnhealthy, Message: "flow manager not configured"}
	} else {
		checks["flows"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.scheduler == nil || s.scheduler.Snapshot().Workers == 0 {
		if status == healthStatusHealthy {
			status = healthStatusDegraded
		}
		checks["scheduler"] = HealthCheck{Status: healthStatusDegraded, Message: "worker pool not running"}
	} else {
		checks["scheduler"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.connManager == nil {
		if status == healthStatusHealthy {
			status = healthStatusDegraded
		}
		checks["event_stream"] = HealthCheck{Status: healthStatusDegraded, Message: "websocket manager not configured"}
	} else {
		checks["event_stream"] = HealthCheck{Status: healthStatusHealthy}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	resp := &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	}
	if s.breakers != nil {
		resp.Breakers = s.breakers.Snapshot()
	}
	return c.JSON(httpStatus, resp)
}
