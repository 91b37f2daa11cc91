package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	e.Use(securityHeaders())
	e.GET("/test", func(c *echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "camera=(), microphone=(), geolocation=()", rec.Header().Get("Permissions-Policy"))
}

func TestRoutePattern(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/healthz", "/healthz"},
		{"/api/v1/flows", "/api/v1/flows"},
		{"/api/v1/flows/continue", "/api/v1/flows/continue"},
		{"/api/v1/flows/550e8400-e29b-41d4-a716-446655440000", "/api/v1/flows/:id"},
		{"/api/v1/flows/550e8400-e29b-41d4-a716-446655440000/cancel", "/api/v1/flows/:id/cancel"},
		{"/api/v1/alerts", "/api/v1/alerts"},
		{"/api/v1/alerts/3", "/api/v1/alerts/:index"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, routePattern(tt.path))
		})
	}
}
