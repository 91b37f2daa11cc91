// Package flow admits, tracks, and executes research workflows. The
// manager is an in-memory registry guarded by a mutex; every read
// hands out a deep copy, and a live flow's state is only ever written
// by the scheduler worker running it.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/events"
	"github.com/probelab/delver/pkg/faults"
	"github.com/probelab/delver/pkg/metrics"
	"github.com/probelab/delver/pkg/models"
	"github.com/probelab/delver/pkg/reporter"
	"github.com/probelab/delver/pkg/research"
	"github.com/probelab/delver/pkg/scheduler"
)

// Manager owns the flow registry and drives flows through their
// lifecycle. Flows execute as scheduler tasks; the manager never
// blocks on one.
type Manager struct {
	cfg       *config.Config
	stages    *research.Stages
	scheduler *scheduler.Scheduler
	publisher *events.Publisher
	reporter  *reporter.Reporter
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu      sync.RWMutex
	flows   map[string]*models.Flow
	order   []string
	cancels map[string]context.CancelFunc
	tasks   map[string]string

	cleanupCancel context.CancelFunc
	cleanupDone   chan struct{}
}

// NewManager wires a manager over the scheduler. publisher, rep and m
// may be nil in tests.
func NewManager(
	cfg *config.Config,
	stages *research.Stages,
	sched *scheduler.Scheduler,
	publisher *events.Publisher,
	rep *reporter.Reporter,
	m *metrics.Metrics,
) *Manager {
	return &Manager{
		cfg:       cfg,
		stages:    stages,
		scheduler: sched,
		publisher: publisher,
		reporter:  rep,
		metrics:   m,
		logger:    slog.Default().With("component", "flow_manager"),
		flows:     make(map[string]*models.Flow),
		cancels:   make(map[string]context.CancelFunc),
		tasks:     make(map[string]string),
	}
}

// CreateOptions tunes flow admission.
type CreateOptions struct {
	// Topology overrides the research mode carried by Config.
	Topology string

	// Config overrides the process-wide research defaults. The flow
	// keeps its own copy either way.
	Config *config.ResearchConfig

	// Metadata is carried opaquely on the flow.
	Metadata map[string]any

	// Previous seeds a continuation from an earlier flow's result.
	Previous *models.FlowResult

	// FlowID pins the id instead of generating one.
	FlowID string
}

// CreateFlow admits a new flow in pending state and returns its id.
// Admission fails with a resource error once the number of live
// (pending or running) flows reaches the configured limit.
func (m *Manager) CreateFlow(topic string, opts CreateOptions) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", faults.Validation("flow topic is required")
	}

	rc := opts.Config
	if rc == nil {
		rc = m.cfg.Research
	}
	rc = rc.Clone()
	if opts.Topology != "" {
		rc.ResearchMode = config.ResearchMode(opts.Topology)
	}
	if !rc.ResearchMode.IsValid() {
		return "", faults.Validation(fmt.Sprintf("unknown research mode %q", rc.ResearchMode))
	}

	id := opts.FlowID
	if id == "" {
		id = uuid.NewString()
	}

	state := models.NewReportState(topic, rc)
	if opts.Previous != nil {
		state.PreviousTopic = opts.Previous.Topic
		for _, sec := range opts.Previous.Sections {
			state.Sections = append(state.Sections, sec.Clone())
		}
	}

	f := &models.Flow{
		FlowID:         id,
		Topic:          topic,
		Topology:       string(rc.ResearchMode),
		Status:         models.FlowStatusPending,
		Config:         rc,
		Metadata:       opts.Metadata,
		PreviousResult: opts.Previous,
		State:          state,
		CreatedAt:      time.Now().UTC(),
	}

	m.mu.Lock()
	if _, exists := m.flows[id]; exists {
		m.mu.Unlock()
		return "", faults.Validation("flow id already in use").With("flow_id", id)
	}
	if live := m.liveCountLocked(); live >= m.cfg.Flows.MaxConcurrentFlows {
		m.mu.Unlock()
		return "", faults.ResourceExhausted("too many concurrent flows").
			With("live_flows", live).
			With("max_concurrent_flows", m.cfg.Flows.MaxConcurrentFlows)
	}
	m.flows[id] = f
	m.order = append(m.order, id)
	snap := f.Clone()
	m.mu.Unlock()

	m.metrics.RecordFlowCreated()
	m.publishStatus(snap)
	m.logger.Info("Flow admitted",
		"flow_id", id, "topic", topic, "topology", f.Topology)
	return id, nil
}

// GetFlow returns a deep-copied snapshot of the flow.
func (m *Manager) GetFlow(id string) (*models.Flow, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.flows[id]
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

// ListFlows returns snapshots in creation order, narrowed by the
// filters. The returned total counts every match regardless of the
// limit.
func (m *Manager) ListFlows(filters models.FlowFilters) ([]*models.Flow, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Flow
	total := 0
	for _, id := range m.order {
		f := m.flows[id]
		if filters.Status != "" && f.Status != filters.Status {
			continue
		}
		if filters.Topology != "" && f.Topology != filters.Topology {
			continue
		}
		total++
		if filters.Limit > 0 && len(out) >= filters.Limit {
			continue
		}
		out = append(out, f.Clone())
	}
	return out, total
}

// StartFlow moves a pending flow to running and hands it to the
// scheduler. Returns false when the flow is unknown or not pending.
func (m *Manager) StartFlow(id string) bool {
	m.mu.Lock()
	f, ok := m.flows[id]
	if !ok || f.Status != models.FlowStatusPending {
		m.mu.Unlock()
		return false
	}
	now := time.Now().UTC()
	f.Status = models.FlowStatusRunning
	f.StartedAt = &now
	snap := f.Clone()
	m.mu.Unlock()

	m.metrics.RecordFlowStarted()
	m.publishStatus(snap)

	taskID, err := m.scheduler.Register(scheduler.TaskSpec{
		Name:     "flow " + id,
		Priority: m.cfg.Flows.DefaultPriority,
		Timeout:  m.cfg.Flows.FlowTimeout,
		Tags:     []string{"flow"},
		Metadata: map[string]string{scheduler.FlowIDKey: id},
		Func: func(ctx context.Context) (any, error) {
			return m.runFlow(ctx, id)
		},
	})
	if err == nil {
		m.mu.Lock()
		m.tasks[id] = taskID
		m.mu.Unlock()
		err = m.scheduler.Execute(taskID)
	}
	if err != nil {
		m.finishFlow(id, nil, err)
		return false
	}

	m.logger.Info("Flow started", "flow_id", id, "task_id", taskID)
	return true
}

// StartAllPending starts every pending flow and returns how many were
// accepted.
func (m *Manager) StartAllPending() int {
	m.mu.RLock()
	var pending []string
	for _, id := range m.order {
		if m.flows[id].Status == models.FlowStatusPending {
			pending = append(pending, id)
		}
	}
	m.mu.RUnlock()

	started := 0
	for _, id := range pending {
		if m.StartFlow(id) {
			started++
		}
	}
	return started
}

// StartContinuous admits and starts a follow-up flow carrying the
// completed previous flow's topic and result into the new state.
func (m *Manager) StartContinuous(previousFlowID, topic string, rc *config.ResearchConfig) (string, error) {
	prev, ok := m.GetFlow(previousFlowID)
	if !ok {
		return "", faults.NotFound("flow", previousFlowID)
	}
	if prev.Status != models.FlowStatusCompleted {
		return "", faults.InvalidState("previous flow has not completed").
			With("flow_id", previousFlowID).
			With("status", string(prev.Status))
	}

	id, err := m.CreateFlow(topic, CreateOptions{
		Config:   rc,
		Previous: prev.Result,
	})
	if err != nil {
		return "", err
	}
	m.StartFlow(id)
	return id, nil
}

// CancelFlow cancels a pending or running flow. Terminal flows are
// left untouched and report false.
func (m *Manager) CancelFlow(id string) bool {
	m.mu.Lock()
	f, ok := m.flows[id]
	if !ok || f.Status.IsTerminal() {
		m.mu.Unlock()
		return false
	}
	now := time.Now().UTC()
	f.Status = models.FlowStatusCancelled
	f.Error = "cancelled"
	f.CompletedAt = &now

	cancel := m.cancels[id]
	delete(m.cancels, id)
	taskID := m.tasks[id]
	snap := f.Clone()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if taskID != "" {
		m.scheduler.Cancel(taskID)
	}

	duration := time.Duration(0)
	if snap.StartedAt != nil {
		duration = now.Sub(*snap.StartedAt)
	}
	m.metrics.RecordFlowFinished(string(models.FlowStatusCancelled), duration)
	m.publishStatus(snap)
	m.writeSnapshot(snap)
	m.logger.Info("Flow cancelled", "flow_id", id)
	return true
}

// Cleanup removes terminal flows older than maxAge, forgetting their
// scheduler tasks along the way. Returns how many were removed.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	now := time.Now().UTC()

	m.mu.Lock()
	var forget []string
	gone := make(map[string]bool)
	kept := m.order[:0]
	removed := 0
	for _, id := range m.order {
		f := m.flows[id]
		if !f.Status.IsTerminal() || f.Age(now) <= maxAge {
			kept = append(kept, id)
			continue
		}
		delete(m.flows, id)
		delete(m.cancels, id)
		if taskID := m.tasks[id]; taskID != "" {
			forget = append(forget, taskID)
		}
		delete(m.tasks, id)
		gone[id] = true
		removed++
	}
	m.order = kept
	m.mu.Unlock()

	for _, taskID := range forget {
		m.scheduler.Forget(taskID)
	}
	// Researcher sub-tasks carry their flow's id in metadata.
	for _, info := range m.scheduler.ByTag("flow-branch") {
		if gone[info.Metadata[scheduler.FlowIDKey]] {
			m.scheduler.Forget(info.ID)
		}
	}
	if removed > 0 {
		m.logger.Info("Removed old flows", "count", removed, "max_age", maxAge)
	}
	return removed
}

// StartCleanup launches the background retention loop.
func (m *Manager) StartCleanup(ctx context.Context) {
	if m.cleanupCancel != nil {
		return
	}
	ctx, m.cleanupCancel = context.WithCancel(ctx)
	m.cleanupDone = make(chan struct{})

	go m.cleanupLoop(ctx)

	m.logger.Info("Flow cleanup started",
		"interval", m.cfg.Flows.CleanupInterval,
		"max_age", m.cfg.Flows.CleanupMaxAge)
}

// StopCleanup signals the retention loop to exit and waits for it.
func (m *Manager) StopCleanup() {
	if m.cleanupCancel == nil {
		return
	}
	m.cleanupCancel()
	<-m.cleanupDone
	m.logger.Info("Flow cleanup stopped")
}

func (m *Manager) cleanupLoop(ctx context.Context) {
	defer close(m.cleanupDone)

	m.Cleanup(m.cfg.Flows.CleanupMaxAge)

	ticker := time.NewTicker(m.cfg.Flows.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup(m.cfg.Flows.CleanupMaxAge)
		}
	}
}

// liveCountLocked counts flows that hold an admission slot.
func (m *Manager) liveCountLocked() int {
	live := 0
	for _, f := range m.flows {
		if !f.Status.IsTerminal() {
			live++
		}
	}
	return live
}

// updateProgress raises the flow's progress. Regressions are dropped
// so estimate changes never move the bar backwards, and 1.0 is
// reserved for the completed transition.
func (m *Manager) updateProgress(id string, progress float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flows[id]
	if !ok {
		return 0
	}
	if f.Status == models.FlowStatusRunning && progress > f.Progress {
		f.Progress = progress
	}
	return f.Progress
}

func (m *Manager) publishStatus(f *models.Flow) {
	if m.publisher == nil {
		return
	}
	m.publisher.PublishFlowStatus(events.FlowStatusPayload{
		FlowID:   f.FlowID,
		Status:   string(f.Status),
		Topic:    f.Topic,
		Topology: f.Topology,
		Progress: f.Progress,
		Error:    f.Error,
	})
}
