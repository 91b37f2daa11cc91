package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/probelab/delver/pkg/faults"
)

// errorStatsHandler handles GET /api/v1/errors/stats.
func (s *Server) errorStatsHandler(c *echo.Context) error {
	if s.reporter == nil {
		return s.fail(c, faults.Unavailable("error reporting"))
	}
	return c.JSON(http.StatusOK, s.reporter.Stats())
}

// errorVisualizeHandler handles GET /api/v1/errors/visualize.
// Groups buffered errors by kind, category, or severity over a trailing
// window of hours.
func (s *Server) errorVisualizeHandler(c *echo.Context) error {
	if s.reporter == nil {
		return s.fail(c, faults.Unavailable("error reporting"))
	}

	// 1. Parse query parameters
	groupBy := c.QueryParam("group_by")
	if groupBy == "" {
		groupBy = "kind"
	}
	hours, err := optionalPositiveInt(c, "hours", 24)
	if err != nil {
		return s.fail(c, err)
	}
	maxErrors, err := optionalPositiveInt(c, "max_errors", 100)
	if err != nil {
		return s.fail(c, err)
	}

	// 2. Group the buffered errors
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	groups, err := s.reporter.Visualize(groupBy, since, maxErrors)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, &VisualizeResponse{GroupBy: groupBy, Groups: groups})
}

// errorTrendsHandler handles GET /api/v1/errors/trends.
// Buckets buffered errors into fixed intervals over a trailing window.
func (s *Server) errorTrendsHandler(c *echo.Context) error {
	if s.reporter == nil {
		return s.fail(c, faults.Unavailable("error reporting"))
	}

	// 1. Parse query parameters
	hours, err := optionalPositiveInt(c, "hours", 24)
	if err != nil {
		return s.fail(c, err)
	}
	intervalMinutes, err := optionalPositiveInt(c, "interval_minutes", 60)
	if err != nil {
		return s.fail(c, err)
	}

	// 2. Bucket the buffered errors
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	intervals, err := s.reporter.Trends(since, time.Duration(intervalMinutes)*time.Minute)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, &TrendsResponse{Intervals: intervals})
}

// optionalPositiveInt reads a positive integer query parameter,
// falling back when it is absent.
func optionalPositiveInt(c *echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	return parsePositiveInt(name, raw)
}
