package models

import (
	"time"

	"github.com/probelab/delver/pkg/config"
)

// FlowStatus is the lifecycle state of a research flow.
type FlowStatus string

const (
	FlowStatusPending   FlowStatus = "pending"
	FlowStatusRunning   FlowStatus = "running"
	FlowStatusCompleted FlowStatus = "completed"
	FlowStatusFailed    FlowStatus = "failed"
	FlowStatusCancelled FlowStatus = "cancelled"
)

// IsValid reports whether the status is a known value.
func (s FlowStatus) IsValid() bool {
	switch s {
	case FlowStatusPending, FlowStatusRunning, FlowStatusCompleted,
		FlowStatusFailed, FlowStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status is absorbing.
func (s FlowStatus) IsTerminal() bool {
	switch s {
	case FlowStatusCompleted, FlowStatusFailed, FlowStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the move s -> next is legal.
// Pending flows may start running or be cancelled; running flows may
// reach any terminal status; terminal statuses never change.
func (s FlowStatus) CanTransitionTo(next FlowStatus) bool {
	switch s {
	case FlowStatusPending:
		return next == FlowStatusRunning || next == FlowStatusCancelled
	case FlowStatusRunning:
		return next.IsTerminal()
	}
	return false
}

// FlowResult is the outcome of a completed flow, kept for continuation.
type FlowResult struct {
	FlowID      string     `json:"flow_id"`
	Topic       string     `json:"topic"`
	Report      string     `json:"report"`
	Sections    []*Section `json:"sections,omitempty"`
	CompletedAt time.Time  `json:"completed_at"`
}

// Flow is one admitted research workflow.
type Flow struct {
	FlowID         string                 `json:"flow_id"`
	Topic          string                 `json:"topic"`
	Topology       string                 `json:"topology"`
	Status         FlowStatus             `json:"status"`
	Progress       float64                `json:"progress"`
	Config         *config.ResearchConfig `json:"config,omitempty"`
	Metadata       map[string]any         `json:"metadata,omitempty"`
	PreviousResult *FlowResult            `json:"previous_result,omitempty"`
	State          *ReportState           `json:"state,omitempty"`
	Result         *FlowResult            `json:"result,omitempty"`
	Error          string                 `json:"error,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
}

// Clone deep-copies the flow for handing snapshots across goroutines.
func (f *Flow) Clone() *Flow {
	if f == nil {
		return nil
	}
	out := *f
	out.Metadata = cloneMap(f.Metadata)
	out.State = f.State.Clone()
	if f.StartedAt != nil {
		t := *f.StartedAt
		out.StartedAt = &t
	}
	if f.CompletedAt != nil {
		t := *f.CompletedAt
		out.CompletedAt = &t
	}
	if f.PreviousResult != nil {
		pr := *f.PreviousResult
		out.PreviousResult = &pr
	}
	if f.Result != nil {
		res := *f.Result
		out.Result = &res
	}
	return &out
}

// Age returns the time since the flow reached a terminal status, or
// zero when it is still live.
func (f *Flow) Age(now time.Time) time.Duration {
	if f.CompletedAt == nil {
		return 0
	}
	return now.Sub(*f.CompletedAt)
}

// CreateFlowRequest is the payload for admitting a new flow.
type CreateFlowRequest struct {
	Topic          string                 `json:"topic"`
	Topology       string                 `json:"topology,omitempty"`
	Config         *config.ResearchConfig `json:"config,omitempty"`
	Metadata       map[string]any         `json:"metadata,omitempty"`
	PreviousFlowID string                 `json:"previous_flow_id,omitempty"`
	Start          bool                   `json:"start,omitempty"`
}

// FlowFilters narrows list_flows.
type FlowFilters struct {
	Status   FlowStatus `json:"status,omitempty"`
	Topology string     `json:"topology,omitempty"`
	Limit    int        `json:"limit,omitempty"`
}

// FlowListResponse is the list_flows payload.
type FlowListResponse struct {
	Flows []*Flow `json:"flows"`
	Total int     `json:"total"`
}
