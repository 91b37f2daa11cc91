package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/events"
	"github.com/probelab/delver/pkg/faults"
	"github.com/probelab/delver/pkg/metrics"
)

// Scheduler is the bounded-concurrency task pool. A single dispatcher
// goroutine pops ready tasks off the priority heap and hands them to
// worker goroutines; mutations happen under one mutex and lifecycle
// events are collected inside the critical section but published only
// after it is released.
type Scheduler struct {
	cfg       *config.SchedulerConfig
	publisher *events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	queue   readyQueue
	seq     uint64
	running int

	dispatchCh chan *task
	notifyCh   chan struct{}
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	started    bool
}

// New creates a stopped scheduler. Call Start to spawn the workers.
func New(cfg *config.SchedulerConfig, publisher *events.Publisher, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		publisher:  publisher,
		metrics:    m,
		logger:     slog.Default().With("component", "scheduler"),
		tasks:      make(map[string]*task),
		dispatchCh: make(chan *task),
		notifyCh:   make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
}

// Start spawns the dispatcher and worker goroutines. Safe to call
// more than once; later calls are no-ops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.logger.Warn("Scheduler already started, ignoring duplicate Start call")
		return
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("Starting scheduler", "max_workers", s.cfg.MaxWorkers)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatch()
	}()

	for i := 0; i < s.cfg.MaxWorkers; i++ {
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			s.worker(id)
		}(i)
	}
}

// Stop signals the pool to drain and waits for running tasks to
// finish, up to the graceful shutdown timeout (or ctx expiry if that
// comes first). Tasks still running past the deadline have their
// contexts cancelled, then Stop waits for them to return.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.Info("Stopping scheduler gracefully")
	s.stopOnce.Do(func() { close(s.stopCh) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var deadline <-chan time.Time
	if s.cfg.GracefulShutdownTimeout > 0 {
		deadline = time.After(s.cfg.GracefulShutdownTimeout)
	}
	select {
	case <-done:
		s.logger.Info("Scheduler stopped gracefully")
		return
	case <-ctx.Done():
	case <-deadline:
	}

	cancelled := s.cancelRunning()
	if cancelled > 0 {
		s.logger.Warn("Shutdown deadline reached, cancelled running tasks", "count", cancelled)
	}
	<-done
	s.logger.Info("Scheduler stopped")
}

// cancelRunning fires the cancel handle of every running task and
// returns how many were cancelled.
func (s *Scheduler) cancelRunning() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.status == StatusRunning && t.cancel != nil {
			t.cancel()
			n++
		}
	}
	return n
}

// Register records a task and returns its id. The task does not run
// until Execute submits it.
func (s *Scheduler) Register(spec TaskSpec) (string, error) {
	if spec.Func == nil {
		return "", faults.Validation("task function is required")
	}
	priority := spec.Priority
	if priority == "" {
		priority = config.PriorityNormal
	}
	if !priority.IsValid() {
		return "", faults.Validation(fmt.Sprintf("invalid task priority %q", priority))
	}
	name := spec.Name
	if name == "" {
		name = "task"
	}
	timeout := spec.Timeout
	if timeout == 0 {
		timeout = s.cfg.DefaultTaskTimeout
	}

	t := &task{
		id:           uuid.NewString(),
		name:         name,
		priority:     priority,
		dependencies: spec.Dependencies,
		tags:         spec.Tags,
		metadata:     spec.Metadata,
		fn:           spec.Func,
		timeout:      timeout,
		status:       StatusPending,
		createdAt:    time.Now(),
		heapIndex:    -1,
		done:         make(chan struct{}),
	}

	s.mu.Lock()
	s.seq++
	t.seq = s.seq
	s.tasks[t.id] = t
	s.mu.Unlock()

	s.metrics.RecordTaskSubmitted()
	s.publishTask(events.EventTypeTaskSubmitted, t.eventPayload())
	s.logger.Debug("Task registered", "task_id", t.id, "name", name, "priority", priority)
	return t.id, nil
}

// Execute submits a registered task. Tasks with every dependency
// completed enqueue immediately; tasks with unfinished dependencies
// park as waiting until their dependencies resolve. A dependency that
// already finished unsuccessfully fails the task on the spot, which
// Execute still treats as a successful submission.
func (s *Scheduler) Execute(id string) error {
	s.mu.Lock()

	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return faults.NotFound("task", id)
	}
	if t.submitted || t.status != StatusPending {
		s.mu.Unlock()
		return faults.InvalidState("task already submitted").With("task_id", id).With("status", string(t.status))
	}
	if s.cfg.QueueCapacity > 0 && s.queuedLocked() >= s.cfg.QueueCapacity {
		s.mu.Unlock()
		return faults.ResourceExhausted("task queue is full").With("capacity", s.cfg.QueueCapacity)
	}

	for _, dep := range t.dependencies {
		if _, ok := s.tasks[dep]; !ok {
			s.mu.Unlock()
			return faults.Dependency("task depends on unknown task " + dep).With("task_id", id)
		}
	}

	var evs []taskEvent
	t.submitted = true

	if dep := s.firstFailedDepLocked(t); dep != nil {
		s.failLocked(t, faults.Dependency(fmt.Sprintf("dependency %s %s", dep.id, dep.status)).
			With("dependency_id", dep.id), &evs)
	} else if s.depsSatisfiedLocked(t) {
		s.enqueueLocked(t)
	} else {
		t.status = StatusWaiting
	}

	depth := s.queuedLocked()
	s.mu.Unlock()

	s.metrics.SetTaskQueueDepth(depth)
	s.flushEvents(evs)
	s.notify()
	return nil
}

// Cancel stops a task that has not finished. Pending and waiting
// tasks transition to cancelled immediately; running tasks have their
// context cancelled and finish through the usual classification.
// Returns false for unknown or already terminal tasks.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()

	t, ok := s.tasks[id]
	if !ok || t.status.IsTerminal() {
		s.mu.Unlock()
		return false
	}

	var evs []taskEvent
	switch t.status {
	case StatusRunning:
		if t.cancel != nil {
			t.cancel()
		}
		s.mu.Unlock()
		s.logger.Info("Cancelling running task", "task_id", id)
		return true
	case StatusPending:
		if t.heapIndex >= 0 {
			heap.Remove(&s.queue, t.heapIndex)
		}
		s.finishLocked(t, StatusCancelled, nil, faults.New(faults.KindTask, "task cancelled"), &evs)
	case StatusWaiting:
		s.finishLocked(t, StatusCancelled, nil, faults.New(faults.KindTask, "task cancelled"), &evs)
	}
	s.cascadeLocked(t, &evs)

	depth := s.queuedLocked()
	s.mu.Unlock()

	s.metrics.SetTaskQueueDepth(depth)
	s.flushEvents(evs)
	return true
}

// Wait blocks until the task reaches a terminal status or ctx
// expires, and returns the terminal snapshot.
func (s *Scheduler) Wait(ctx context.Context, id string) (TaskInfo, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return TaskInfo{}, faults.NotFound("task", id)
	}
	done := t.done
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return TaskInfo{}, ctx.Err()
	case <-done:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return t.snapshotLocked(), nil
}

// Get returns a snapshot of the task.
func (s *Scheduler) Get(id string) (TaskInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return TaskInfo{}, false
	}
	return t.snapshotLocked(), true
}

// ByStatus returns snapshots of every task in the given status,
// oldest first.
func (s *Scheduler) ByStatus(status Status) []TaskInfo {
	return s.collect(func(t *task) bool { return t.status == status })
}

// ByTag returns snapshots of every task carrying the tag, oldest
// first.
func (s *Scheduler) ByTag(tag string) []TaskInfo {
	return s.collect(func(t *task) bool { return t.hasTag(tag) })
}

func (s *Scheduler) collect(match func(*task) bool) []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TaskInfo
	for _, t := range s.tasks {
		if match(t) {
			out = append(out, t.snapshotLocked())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Snapshot reports current pool load.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Workers:  s.cfg.MaxWorkers,
		Queued:   len(s.queue),
		Running:  s.running,
		Total:    len(s.tasks),
		ByStatus: make(map[Status]int),
	}
	for _, t := range s.tasks {
		snap.ByStatus[t.status]++
		if t.status == StatusWaiting {
			snap.Waiting++
		}
	}
	return snap
}

// Forget drops a terminal task from the registry. Used by retention
// sweeps; returns false when the task is unknown or still live.
func (s *Scheduler) Forget(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || !t.status.IsTerminal() {
		return false
	}
	delete(s.tasks, id)
	return true
}

// dispatch pops ready tasks in priority order and hands them to the
// workers. It parks on notifyCh when the heap is empty.
func (s *Scheduler) dispatch() {
	for {
		t := s.nextReady()
		if t == nil {
			select {
			case <-s.stopCh:
				return
			case <-s.notifyCh:
				continue
			}
		}

		select {
		case <-s.stopCh:
			s.requeue(t)
			return
		case s.dispatchCh <- t:
		}
	}
}

func (s *Scheduler) nextReady() *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	return heap.Pop(&s.queue).(*task)
}

func (s *Scheduler) requeue(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.status == StatusPending {
		heap.Push(&s.queue, t)
	}
}

func (s *Scheduler) worker(id int) {
	logger := s.logger.With("worker", id)
	logger.Debug("Worker started")
	for {
		select {
		case <-s.stopCh:
			logger.Debug("Worker stopped")
			return
		case t := <-s.dispatchCh:
			s.run(t)
		}
	}
}

// run executes one task end to end: transition to running, invoke the
// function under the task context, classify the outcome, resolve
// dependents.
func (s *Scheduler) run(t *task) {
	s.mu.Lock()
	if t.status != StatusPending {
		// Cancelled between dispatch and pickup.
		s.mu.Unlock()
		return
	}
	now := time.Now()
	t.status = StatusRunning
	t.startedAt = &now
	s.running++

	ctx, cancel := s.taskContext(t)
	t.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	s.metrics.RecordTaskStarted()
	s.publishTask(events.EventTypeTaskStarted, t.eventPayload())
	s.logger.Debug("Task started", "task_id", t.id, "name", t.name)

	result, err := s.invoke(ctx, t)

	var evs []taskEvent
	s.mu.Lock()
	s.running--
	status, taskErr := classify(ctx, err)
	s.finishLocked(t, status, result, taskErr, &evs)
	s.cascadeLocked(t, &evs)
	depth := s.queuedLocked()
	elapsed := time.Since(*t.startedAt)
	s.mu.Unlock()

	s.metrics.RecordTaskFinished(string(status), elapsed)
	s.metrics.SetTaskQueueDepth(depth)
	s.flushEvents(evs)
	s.notify()

	if taskErr != nil {
		s.logger.Warn("Task finished", "task_id", t.id, "name", t.name,
			"status", status, "elapsed", elapsed.Round(time.Millisecond), "error", taskErr)
	} else {
		s.logger.Debug("Task finished", "task_id", t.id, "name", t.name,
			"status", status, "elapsed", elapsed.Round(time.Millisecond))
	}
}

func (s *Scheduler) taskContext(t *task) (context.Context, context.CancelFunc) {
	if t.timeout > 0 {
		return context.WithTimeout(context.Background(), t.timeout)
	}
	return context.WithCancel(context.Background())
}

// invoke calls the task function, converting a panic into a failure
// instead of taking down the worker.
func (s *Scheduler) invoke(ctx context.Context, t *task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Task panicked", "task_id", t.id, "name", t.name, "panic", r)
			err = faults.New(faults.KindTask, fmt.Sprintf("task panicked: %v", r))
		}
	}()
	return t.fn(ctx)
}

// classify maps a task function's return into a terminal status. The
// task context's own expiry decides whether an error counts as a
// timeout or a cancellation rather than a plain failure.
func classify(ctx context.Context, err error) (Status, error) {
	if err == nil {
		return StatusCompleted, nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded:
		return StatusTimeout, faults.Timeout("task execution")
	case errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled:
		return StatusCancelled, faults.New(faults.KindTask, "task cancelled")
	default:
		return StatusFailed, err
	}
}

// finishLocked moves a task to a terminal status and records the
// matching event. Caller holds the mutex.
func (s *Scheduler) finishLocked(t *task, status Status, result any, err error, evs *[]taskEvent) {
	if t.status.IsTerminal() {
		return
	}
	now := time.Now()
	t.status = status
	t.result = result
	t.err = err
	t.completedAt = &now
	close(t.done)

	eventType := events.EventTypeTaskCompleted
	switch status {
	case StatusFailed:
		eventType = events.EventTypeTaskFailed
	case StatusCancelled:
		eventType = events.EventTypeTaskCancelled
	case StatusTimeout:
		eventType = events.EventTypeTaskTimeout
	}
	*evs = append(*evs, taskEvent{eventType, t.eventPayload()})
}

// cascadeLocked resolves waiting tasks after t reached a terminal
// status: a completed dependency may release them, an unsuccessful
// one fails them, transitively. Caller holds the mutex.
func (s *Scheduler) cascadeLocked(t *task, evs *[]taskEvent) {
	if t.status == StatusCompleted {
		for _, w := range s.tasks {
			if w.status == StatusWaiting && s.depsSatisfiedLocked(w) {
				w.status = StatusPending
				s.enqueueLocked(w)
				*evs = append(*evs, taskEvent{events.EventTypeTaskReady, w.eventPayload()})
			}
		}
		return
	}

	failed := []*task{t}
	for len(failed) > 0 {
		f := failed[0]
		failed = failed[1:]
		for _, w := range s.tasks {
			if w.status != StatusWaiting || !w.dependsOn(f.id) {
				continue
			}
			s.failLocked(w, faults.Dependency(fmt.Sprintf("dependency %s %s", f.id, f.status)).
				With("dependency_id", f.id), evs)
			failed = append(failed, w)
		}
	}
}

func (s *Scheduler) failLocked(t *task, err error, evs *[]taskEvent) {
	s.finishLocked(t, StatusFailed, nil, err, evs)
}

func (s *Scheduler) enqueueLocked(t *task) {
	heap.Push(&s.queue, t)
}

func (s *Scheduler) firstFailedDepLocked(t *task) *task {
	for _, id := range t.dependencies {
		dep := s.tasks[id]
		if dep.status.IsTerminal() && dep.status != StatusCompleted {
			return dep
		}
	}
	return nil
}

func (s *Scheduler) depsSatisfiedLocked(t *task) bool {
	for _, id := range t.dependencies {
		if dep, ok := s.tasks[id]; !ok || dep.status != StatusCompleted {
			return false
		}
	}
	return true
}

// queuedLocked counts tasks occupying queue capacity: enqueued plus
// waiting.
func (s *Scheduler) queuedLocked() int {
	n := len(s.queue)
	for _, t := range s.tasks {
		if t.status == StatusWaiting {
			n++
		}
	}
	return n
}

func (s *Scheduler) notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

type taskEvent struct {
	eventType string
	payload   events.TaskStatusPayload
}

func (s *Scheduler) flushEvents(evs []taskEvent) {
	for _, ev := range evs {
		s.publishTask(ev.eventType, ev.payload)
	}
}

func (s *Scheduler) publishTask(eventType string, payload events.TaskStatusPayload) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishTaskEvent(eventType, payload)
}

// eventPayload builds the websocket payload for a task lifecycle
// event. Callers either hold the scheduler mutex or exclusively own
// the task's mutable fields at that point in its lifecycle.
func (t *task) eventPayload() events.TaskStatusPayload {
	payload := events.TaskStatusPayload{
		TaskID:   t.id,
		FlowID:   t.flowID(),
		Name:     t.name,
		Status:   string(t.status),
		Priority: string(t.priority),
	}
	if t.err != nil {
		payload.Error = t.err.Error()
	}
	return payload
}
