package api

import (
	"net/http"
	"runtime/debug"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/probelab/delver/pkg/faults"
)

// statusForKind maps taxonomy kinds to HTTP status codes.
func statusForKind(kind faults.Kind) int {
	switch kind {
	case faults.KindValidation:
		return http.StatusBadRequest
	case faults.KindAuthentication:
		return http.StatusUnauthorized
	case faults.KindAuthorization:
		return http.StatusForbidden
	case faults.KindNotFound:
		return http.StatusNotFound
	case faults.KindTimeout:
		return http.StatusRequestTimeout
	case faults.KindRateLimit:
		return http.StatusTooManyRequests
	case faults.KindConnection, faults.KindResource, faults.KindServiceUnavailable, faults.KindCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail renders err as the standard error envelope: detail, error_type,
// timestamp, the fault's detail fields, and a traceback in development.
func (s *Server) fail(c *echo.Context, err error) error {
	kind := faults.KindOf(err)
	if kind == "" {
		// Errors outside the taxonomy surface as permanent failures.
		s.logger.Error("unexpected API error", "error", err, "path", c.Request().URL.Path)
		kind = faults.KindPermanent
	}

	env := map[string]any{
		"detail":     err.Error(),
		"error_type": string(kind),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	if fe, ok := faults.AsError(err); ok {
		for k, v := range fe.Details() {
			env[k] = v
		}
	}
	if s.cfg.Server.Environment.IsDevelopment() {
		env["traceback"] = string(debug.Stack())
	}
	return c.JSON(statusForKind(kind), env)
}
