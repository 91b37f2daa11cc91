package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/events"
	"github.com/probelab/delver/pkg/faults"
	"github.com/probelab/delver/pkg/models"
	"github.com/probelab/delver/pkg/pipeline"
	"github.com/probelab/delver/pkg/reporter"
	"github.com/probelab/delver/pkg/research"
	"github.com/probelab/delver/pkg/scheduler"
)

// runFlow is the scheduler task body for one flow. The pipeline runs
// on a detached copy of the admitted state; the registry copy is
// written back only at the terminal transition, so concurrent reads
// never observe a half-mutated report.
func (m *Manager) runFlow(taskCtx context.Context, id string) (any, error) {
	ctx, cancel := context.WithCancel(taskCtx)
	defer cancel()

	m.mu.Lock()
	f, ok := m.flows[id]
	if !ok || f.Status != models.FlowStatusRunning {
		m.mu.Unlock()
		return nil, faults.InvalidState("flow is not running").With("flow_id", id)
	}
	m.cancels[id] = cancel
	state := f.State.Clone()
	rc := f.Config
	m.mu.Unlock()

	topo, err := research.Build(m.stages, rc)
	if err != nil {
		m.finishFlow(id, nil, err)
		return nil, err
	}

	engine := pipeline.NewEngine(topo.Graph, topo.MaxSteps).
		WithEstimatedSteps(topo.EstimatedSteps).
		WithEmitter(&flowEmitter{manager: m, flowID: id})
	if runner := m.fanOutRunner(id, rc); runner != nil {
		engine = engine.WithRunner(runner)
	}

	runErr := engine.Run(ctx, state)
	result := m.finishFlow(id, state, runErr)
	if runErr != nil {
		return nil, runErr
	}
	return result, nil
}

// finishFlow writes the worker's final state back and drives the flow
// to its terminal status. When CancelFlow won the race the status is
// kept, but the state still lands so partial work stays visible.
func (m *Manager) finishFlow(id string, state *models.ReportState, runErr error) *models.FlowResult {
	status := models.FlowStatusCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status = models.FlowStatusCancelled
	default:
		status = models.FlowStatusFailed
	}

	now := time.Now().UTC()

	m.mu.Lock()
	f, ok := m.flows[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if state != nil {
		f.State = state
	}
	delete(m.cancels, id)

	if !f.Status.CanTransitionTo(status) {
		snap := f.Clone()
		m.mu.Unlock()
		if snap.Status.IsTerminal() && state != nil {
			m.writeSnapshot(snap)
		}
		return snap.Result
	}

	f.Status = status
	f.CompletedAt = &now
	var result *models.FlowResult
	switch status {
	case models.FlowStatusCompleted:
		f.Progress = 1.0
		result = &models.FlowResult{
			FlowID:      id,
			Topic:       f.Topic,
			Report:      research.RenderReport(state),
			CompletedAt: now,
		}
		for _, sec := range state.Sections {
			result.Sections = append(result.Sections, sec.Clone())
		}
		f.Result = result
	case models.FlowStatusCancelled:
		f.Error = "cancelled"
	case models.FlowStatusFailed:
		f.Error = runErr.Error()
	}

	duration := time.Duration(0)
	if f.StartedAt != nil {
		duration = now.Sub(*f.StartedAt)
	}
	snap := f.Clone()
	m.mu.Unlock()

	m.metrics.RecordFlowFinished(string(status), duration)
	m.publishStatus(snap)
	if status == models.FlowStatusFailed {
		m.reporter.Report(runErr,
			reporter.WithComponent("flow"),
			reporter.WithContext(map[string]any{
				"flow_id": id,
				"topic":   snap.Topic,
			}))
	}
	m.writeSnapshot(snap)
	m.logger.Info("Flow finished",
		"flow_id", id, "status", status,
		"duration", duration.Round(time.Millisecond))
	return result
}

// fanOutRunner picks the branch strategy for the flow. Multi-agent
// flows run researchers as scheduler sub-tasks; a single-worker pool
// would deadlock against the flow's own task there, so fall back to
// in-process runners.
func (m *Manager) fanOutRunner(id string, rc *config.ResearchConfig) pipeline.BranchRunner {
	if rc.ResearchMode != config.ModeMultiAgent {
		return nil
	}

	limit := 1
	if rc.EnableParallelExecution {
		limit = rc.MaxConcurrentResearchers
	}
	if m.cfg.Scheduler.MaxWorkers < 2 {
		if limit == 1 {
			return pipeline.SerialRunner{}
		}
		return pipeline.NewParallelRunner(limit)
	}
	return &taskRunner{
		scheduler: m.scheduler,
		flowID:    id,
		priority:  m.cfg.Flows.DefaultPriority,
		limit:     limit,
	}
}

// flowEmitter translates engine callbacks into flow progress updates
// and stage events. The engine calls it from the run goroutine only.
type flowEmitter struct {
	manager *Manager
	flowID  string
	stage   string
}

func (e *flowEmitter) NodeStart(node string, step int) {
	e.stage = node
	e.publishStage(events.StageStatusPayload{
		FlowID: e.flowID,
		Stage:  node,
		Status: "started",
	})
}

func (e *flowEmitter) NodeEnd(node string, step int, elapsed time.Duration) {
	e.publishStage(events.StageStatusPayload{
		FlowID:     e.flowID,
		Stage:      node,
		Status:     "completed",
		DurationMs: elapsed.Milliseconds(),
	})
}

func (e *flowEmitter) NodeError(node string, step int, elapsed time.Duration, err error) {
	e.publishStage(events.StageStatusPayload{
		FlowID:     e.flowID,
		Stage:      node,
		Status:     "failed",
		DurationMs: elapsed.Milliseconds(),
		Error:      err.Error(),
	})
}

func (e *flowEmitter) Progress(executed, estimated int) {
	progress := e.manager.updateProgress(e.flowID, progressRatio(executed, estimated))
	if p := e.manager.publisher; p != nil {
		p.PublishFlowProgress(events.FlowProgressPayload{
			FlowID:         e.flowID,
			Progress:       progress,
			CompletedSteps: executed,
			TotalSteps:     estimated,
			CurrentStage:   e.stage,
		})
	}
}

func (e *flowEmitter) publishStage(payload events.StageStatusPayload) {
	if p := e.manager.publisher; p != nil {
		p.PublishStageStatus(payload)
	}
}

// progressRatio maps executed steps into [0, 0.99]. Iterative flows
// can overshoot their estimate, so 1.0 stays reserved for the
// completed transition.
func progressRatio(executed, estimated int) float64 {
	if estimated <= 0 {
		return 0
	}
	p := float64(executed) / float64(estimated)
	if p > 0.99 {
		p = 0.99
	}
	return p
}

// taskRunner executes fan-out branches as scheduler sub-tasks sharing
// the parent flow's cancel context. Concurrency is bounded by chaining
// each branch on the one submitted limit slots earlier; at limit 1
// that degrades to strict serial order. The pool needs workers to
// spare beyond the flow's own task, which the manager guarantees
// before choosing this runner.
type taskRunner struct {
	scheduler *scheduler.Scheduler
	flowID    string
	priority  config.TaskPriority
	limit     int
}

func (r *taskRunner) RunBranches(ctx context.Context, n int, run func(ctx context.Context, i int) (any, error)) ([]any, error) {
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		branch := i
		spec := scheduler.TaskSpec{
			Name:     fmt.Sprintf("flow %s branch %d", r.flowID, branch),
			Priority: r.priority,
			Tags:     []string{"flow-branch"},
			Metadata: map[string]string{scheduler.FlowIDKey: r.flowID},
			Func: func(taskCtx context.Context) (any, error) {
				if err := taskCtx.Err(); err != nil {
					return nil, err
				}
				return run(ctx, branch)
			},
		}
		if r.limit > 0 && branch >= r.limit {
			spec.Dependencies = []string{ids[branch-r.limit]}
		}

		id, err := r.scheduler.Register(spec)
		if err != nil {
			return nil, fmt.Errorf("branch %d: %w", branch, err)
		}
		ids[branch] = id
		if err := r.scheduler.Execute(id); err != nil {
			r.scheduler.Cancel(id)
			return nil, fmt.Errorf("branch %d: %w", branch, err)
		}
	}

	// Collect every branch before judging the run so the error
	// reported is the first failure in submission order, matching the
	// in-process runners.
	results := make([]any, n)
	errs := make([]error, n)
	for i, id := range ids {
		info, err := r.scheduler.Wait(ctx, id)
		if err != nil {
			return nil, err
		}
		results[i] = info.Result
		errs[i] = info.Err
	}
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("branch %d: %w", i, err)
		}
	}
	return results, nil
}
