package api

import (
	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/reporter"
	"github.com/probelab/delver/pkg/resilience"
)

// StartFlowsResponse reports the outcome of a batch admission.
type StartFlowsResponse struct {
	FlowIDs       []string `json:"flow_ids"`
	AcceptedCount int      `json:"accepted_count"`
	Errors        []string `json:"errors"`
}

// StartContinuousResponse returns the follow-up flow id.
type StartContinuousResponse struct {
	FlowID string `json:"flow_id"`
}

// CancelFlowResponse reports whether the cancel took effect. False
// means the flow had already reached a terminal status.
type CancelFlowResponse struct {
	Cancelled bool `json:"cancelled"`
}

// AlertRuleView is the JSON rendering of one alert rule.
type AlertRuleView struct {
	Name           string   `json:"name"`
	MinSeverity    string   `json:"min_severity,omitempty"`
	Kinds          []string `json:"kinds,omitempty"`
	Categories     []string `json:"categories,omitempty"`
	CountThreshold int      `json:"count_threshold"`
	Window         string   `json:"window"`
	Channels       []string `json:"channels,omitempty"`
}

func alertRuleView(cfg config.AlertRuleConfig) AlertRuleView {
	return AlertRuleView{
		Name:           cfg.Name,
		MinSeverity:    cfg.MinSeverity,
		Kinds:          cfg.Kinds,
		Categories:     cfg.Categories,
		CountThreshold: cfg.CountThreshold,
		Window:         cfg.Window.String(),
		Channels:       cfg.Channels,
	}
}

// AlertRulesResponse lists the configured alert rules in evaluation
// order; the index is the handle DELETE /alerts/:index takes.
type AlertRulesResponse struct {
	Rules []AlertRuleView `json:"rules"`
}

// RemoveAlertResponse acknowledges a rule removal.
type RemoveAlertResponse struct {
	Removed bool `json:"removed"`
}

// VisualizeResponse groups buffered errors for dashboards.
type VisualizeResponse struct {
	GroupBy string           `json:"group_by"`
	Groups  []reporter.Group `json:"groups"`
}

// TrendsResponse buckets errors over time.
type TrendsResponse struct {
	Intervals []reporter.TrendInterval `json:"intervals"`
}

// HealthCheck is one component's probe result.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the GET /healthz payload. Breakers carries the
// circuit state for external calls; it is informational and does not
// feed the overall status.
type HealthResponse struct {
	Status   string                       `json:"status"`
	Version  string                       `json:"version"`
	Checks   map[string]HealthCheck       `json:"checks"`
	Breakers []resilience.BreakerSnapshot `json:"breakers,omitempty"`
}
