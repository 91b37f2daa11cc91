package models

import (
	"time"

	"github.com/probelab/delver/pkg/faults"
)

// ErrorReport is one captured error as held by the reporter ring and
// persisted to disk.
type ErrorReport struct {
	ErrorType faults.Kind     `json:"error_type"`
	Message   string          `json:"message"`
	Severity  faults.Severity `json:"severity"`
	Category  faults.Category `json:"category"`
	Timestamp time.Time       `json:"timestamp"`
	Context   map[string]any  `json:"context,omitempty"`
	Details   map[string]any  `json:"details,omitempty"`
	Cause     string          `json:"cause,omitempty"`
	Traceback string          `json:"traceback,omitempty"`
}

// ErrorStats is the aggregate view returned by the reporter.
type ErrorStats struct {
	Total      int                       `json:"total"`
	ByKind     map[faults.Kind]int       `json:"by_kind"`
	BySeverity map[faults.Severity]int   `json:"by_severity"`
	ByCategory map[faults.Category]int   `json:"by_category"`
	Recent     []*ErrorReport            `json:"recent,omitempty"`
	Window     time.Duration             `json:"window,omitempty"`
	Rates      map[faults.Kind]float64   `json:"rates,omitempty"`
	Trends     map[faults.Kind][]int     `json:"trends,omitempty"`
	Alerts     map[string]*AlertSnapshot `json:"alerts,omitempty"`
}

// AlertSnapshot reports the live state of one alert rule.
type AlertSnapshot struct {
	Rule        string     `json:"rule"`
	Kind        faults.Kind `json:"kind,omitempty"`
	Threshold   int        `json:"threshold"`
	Window      string     `json:"window"`
	Count       int        `json:"count"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
}
