// Package scheduler runs context-aware task functions on a bounded
// worker pool with priority ordering and dependency gating. It is the
// execution substrate under research flows but carries no research
// semantics of its own.
package scheduler

import (
	"context"
	"time"

	"github.com/probelab/delver/pkg/config"
)

// Status is a task's lifecycle state.
type Status string

const (
	// StatusPending covers registered tasks whose dependencies are
	// satisfied, queued or not yet executed.
	StatusPending Status = "pending"
	// StatusWaiting marks a submitted task blocked on at least one
	// unfinished dependency.
	StatusWaiting Status = "waiting"
	StatusRunning Status = "running"

	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

// IsTerminal reports whether the status is an absorbing end state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Func is the work a task performs. It must honor ctx cancellation;
// the scheduler classifies a ctx-cancelled return as cancelled and a
// deadline-exceeded return as timeout.
type Func func(ctx context.Context) (any, error)

// TaskSpec describes a task at registration time.
type TaskSpec struct {
	Name         string
	Func         Func
	Priority     config.TaskPriority
	Dependencies []string
	// Timeout bounds one execution. Zero falls back to the scheduler's
	// default task timeout.
	Timeout  time.Duration
	Tags     []string
	Metadata map[string]string
}

// FlowIDKey is the metadata key linking a task to the flow it serves.
// Tasks carrying it have their lifecycle events published on that
// flow's channel.
const FlowIDKey = "flow_id"

// task is the scheduler's internal record. All fields are guarded by
// the scheduler mutex except the immutable registration data.
type task struct {
	id           string
	name         string
	priority     config.TaskPriority
	dependencies []string
	tags         []string
	metadata     map[string]string
	fn           Func
	timeout      time.Duration
	seq          uint64

	status      Status
	result      any
	err         error
	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time

	// submitted flips when Execute accepts the task.
	submitted bool
	// heapIndex is the task's slot in the ready queue, -1 when absent.
	heapIndex int
	// cancel aborts a running execution.
	cancel context.CancelFunc
	// done closes when the task reaches a terminal status.
	done chan struct{}
}

func (t *task) flowID() string { return t.metadata[FlowIDKey] }

func (t *task) hasTag(tag string) bool {
	for _, have := range t.tags {
		if have == tag {
			return true
		}
	}
	return false
}

func (t *task) dependsOn(id string) bool {
	for _, dep := range t.dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// TaskInfo is a point-in-time public snapshot of a task.
type TaskInfo struct {
	ID           string
	Name         string
	Priority     config.TaskPriority
	Dependencies []string
	Tags         []string
	Metadata     map[string]string
	Status       Status
	Result       any
	Err          error
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

func (t *task) snapshotLocked() TaskInfo {
	return TaskInfo{
		ID:           t.id,
		Name:         t.name,
		Priority:     t.priority,
		Dependencies: t.dependencies,
		Tags:         t.tags,
		Metadata:     t.metadata,
		Status:       t.status,
		Result:       t.result,
		Err:          t.err,
		CreatedAt:    t.createdAt,
		StartedAt:    t.startedAt,
		CompletedAt:  t.completedAt,
	}
}

// Snapshot summarizes the scheduler's load for health endpoints.
type Snapshot struct {
	Workers  int            `json:"workers"`
	Queued   int            `json:"queued"`
	Waiting  int            `json:"waiting"`
	Running  int            `json:"running"`
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}
