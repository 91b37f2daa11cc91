package api

import (
	"strconv"
	"time"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
)

// StartFlowsRequest is the POST /api/v1/flows payload. Each topic
// becomes an independent flow.
type StartFlowsRequest struct {
	Topics []string `json:"topics"`

	// Topology optionally overrides the configured pipeline topology.
	Topology string `json:"topology,omitempty"`

	// Config holds research config overrides keyed by snake_case field
	// name, applied over the server defaults.
	Config map[string]any `json:"config,omitempty"`

	// Metadata is attached to every created flow.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StartContinuousRequest is the POST /api/v1/flows/continue payload.
type StartContinuousRequest struct {
	PreviousFlowID string         `json:"previous_flow_id"`
	Topic          string         `json:"topic"`
	Config         map[string]any `json:"config,omitempty"`
}

// AlertRuleRequest is the POST /api/v1/alerts payload. Window takes Go
// duration syntax such as "5m" or "1h".
type AlertRuleRequest struct {
	Name           string   `json:"name"`
	MinSeverity    string   `json:"min_severity,omitempty"`
	Kinds          []string `json:"kinds,omitempty"`
	Categories     []string `json:"categories,omitempty"`
	CountThreshold int      `json:"count_threshold"`
	Window         string   `json:"window"`
	Channels       []string `json:"channels,omitempty"`
}

// parsePositiveInt parses a positive integer query parameter.
func parsePositiveInt(name, raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, faults.Validation(name + " must be a positive integer")
	}
	return v, nil
}

// toConfig converts the request into a reporter rule config.
func (r *AlertRuleRequest) toConfig() (config.AlertRuleConfig, error) {
	var window time.Duration
	if r.Window != "" {
		var err error
		window, err = time.ParseDuration(r.Window)
		if err != nil {
			return config.AlertRuleConfig{}, faults.Validation("window must be a duration such as 5m or 1h")
		}
	}
	return config.AlertRuleConfig{
		Name:           r.Name,
		MinSeverity:    r.MinSeverity,
		Kinds:          r.Kinds,
		Categories:     r.Categories,
		CountThreshold: r.CountThreshold,
		Window:         window,
		Channels:       r.Channels,
	}, nil
}
