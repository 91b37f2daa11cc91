package api

import (
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/probelab/delver/pkg/auth"
	"github.com/probelab/delver/pkg/faults"
)

// principalKey is the context key the authenticated principal is stored
// under.
const principalKey = "principal"

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// requestLogger logs each request and feeds the HTTP metrics.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)
			elapsed := time.Since(start)

			method := c.Request().Method
			path := c.Request().URL.Path
			status := c.Response().Status
			s.metrics.RecordHTTPRequest(method, routePattern(path), strconv.Itoa(status), elapsed)
			s.logger.Debug("request handled",
				"method", method,
				"path", path,
				"status", status,
				"duration_ms", elapsed.Milliseconds(),
			)
			return err
		}
	}
}

// routePattern collapses path parameters so metric labels stay bounded.
func routePattern(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/flows/"):
		if path == "/api/v1/flows/continue" {
			return path
		}
		if strings.HasSuffix(path, "/cancel") {
			return "/api/v1/flows/:id/cancel"
		}
		return "/api/v1/flows/:id"
	case strings.HasPrefix(path, "/api/v1/alerts/"):
		return "/api/v1/alerts/:index"
	default:
		return path
	}
}

// authenticate resolves the request credential through the gate and
// stores the principal for permission checks downstream.
func (s *Server) authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			principal, err := s.gate.Authenticate(c.Request().Context(), extractCredential(c))
			if err != nil {
				return s.fail(c, err)
			}
			c.Set(principalKey, principal)
			return next(c)
		}
	}
}

// require enforces a permission on the authenticated principal.
func (s *Server) require(permission auth.Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !s.gate.Authorize(principalFrom(c), permission) {
				return s.fail(c, faults.Authorization("missing permission "+string(permission)))
			}
			return next(c)
		}
	}
}
