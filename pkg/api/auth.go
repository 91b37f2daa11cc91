package api

import (
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/probelab/delver/pkg/auth"
)

// extractCredential extracts the API credential from the request.
// Priority: Authorization bearer token > X-API-Key header.
func extractCredential(c *echo.Context) string {
	if header := c.Request().Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return c.Request().Header.Get("X-API-Key")
}

// principalFrom returns the principal stored by the authenticate
// middleware, or nil outside of it.
func principalFrom(c *echo.Context) *auth.Principal {
	principal, _ := c.Get(principalKey).(*auth.Principal)
	return principal
}
