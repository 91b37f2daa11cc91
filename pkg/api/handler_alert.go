package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/probelab/delver/pkg/faults"
)

// listAlertsHandler handles GET /api/v1/alerts.
func (s *Server) listAlertsHandler(c *echo.Context) error {
	if s.reporter == nil {
		return s.fail(c, faults.Unavailable("error reporting"))
	}

	rules := s.reporter.Rules()
	views := make([]AlertRuleView, 0, len(rules))
	for _, rule := range rules {
		views = append(views, alertRuleView(rule))
	}
	return c.JSON(http.StatusOK, &AlertRulesResponse{Rules: views})
}

// addAlertHandler handles POST /api/v1/alerts.
// Appends a rule to the evaluation order; it applies to errors reported
// from now on.
func (s *Server) addAlertHandler(c *echo.Context) error {
	if s.reporter == nil {
		return s.fail(c, faults.Unavailable("error reporting"))
	}

	// 1. Bind HTTP request
	var req AlertRuleRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, faults.Validation("malformed request body"))
	}

	// 2. Convert and validate the rule
	cfg, err := req.toConfig()
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.reporter.AddRule(cfg); err != nil {
		return s.fail(c, err)
	}

	return c.JSON(http.StatusCreated, alertRuleView(cfg))
}

// removeAlertHandler handles DELETE /api/v1/alerts/:index.
func (s *Server) removeAlertHandler(c *echo.Context) error {
	if s.reporter == nil {
		return s.fail(c, faults.Unavailable("error reporting"))
	}

	// 1. Parse the rule index
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return s.fail(c, faults.Validation("index must be an integer"))
	}

	// 2. Remove; out-of-range indexes come back as not found
	if err := s.reporter.RemoveRule(index); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, &RemoveAlertResponse{Removed: true})
}
