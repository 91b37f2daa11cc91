package events

import "time"

// Typed payloads for every event the system publishes. Each payload carries
// its event type and an RFC3339Nano timestamp so clients can render events
// without consulting the envelope.

// FlowStatusPayload announces a flow status transition.
type FlowStatusPayload struct {
	Type     string  `json:"type"` // EventTypeFlowStatus
	FlowID   string  `json:"flow_id"`
	Status   string  `json:"status"`
	Topic    string  `json:"topic,omitempty"`
	Topology string  `json:"topology,omitempty"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error,omitempty"`

	Timestamp string `json:"timestamp"`
}

// FlowProgressPayload reports incremental progress inside a running flow.
type FlowProgressPayload struct {
	Type           string  `json:"type"` // EventTypeFlowProgress
	FlowID         string  `json:"flow_id"`
	Progress       float64 `json:"progress"`
	CompletedSteps int     `json:"completed_steps"`
	TotalSteps     int     `json:"total_steps"`
	CurrentStage   string  `json:"current_stage,omitempty"`

	Timestamp string `json:"timestamp"`
}

// StageStatusPayload reports a pipeline stage starting or finishing.
type StageStatusPayload struct {
	Type       string `json:"type"` // EventTypeStageStatus
	FlowID     string `json:"flow_id"`
	Stage      string `json:"stage"`
	Status     string `json:"status"` // "started", "completed", "failed"
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`

	Timestamp string `json:"timestamp"`
}

// TaskStatusPayload reports scheduler task lifecycle events. Type carries the
// concrete event (task.submitted, task.started, ...).
type TaskStatusPayload struct {
	Type     string `json:"type"`
	TaskID   string `json:"task_id"`
	FlowID   string `json:"flow_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Status   string `json:"status"`
	Priority string `json:"priority,omitempty"`
	Error    string `json:"error,omitempty"`

	Timestamp string `json:"timestamp"`
}

// ErrorReportedPayload mirrors an error report accepted by the reporter.
type ErrorReportedPayload struct {
	Type      string `json:"type"` // EventTypeErrorReported
	ErrorType string `json:"error_type"`
	Severity  string `json:"severity"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	Component string `json:"component,omitempty"`

	Timestamp string `json:"timestamp"`
}

// AlertFiredPayload announces that an alert rule crossed its threshold.
type AlertFiredPayload struct {
	Type      string   `json:"type"` // EventTypeAlertFired
	Rule      string   `json:"rule"`
	ErrorType string   `json:"error_type,omitempty"`
	Count     int      `json:"count"`
	Threshold int      `json:"threshold"`
	WindowSec int      `json:"window_sec"`
	Channels  []string `json:"channels,omitempty"`

	Timestamp string `json:"timestamp"`
}

func eventTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
