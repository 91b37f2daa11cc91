package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/events"
	"github.com/probelab/delver/pkg/faults"
)

func testSchedulerConfig(workers int) *config.SchedulerConfig {
	return &config.SchedulerConfig{
		MaxWorkers:              workers,
		QueueCapacity:           0,
		DefaultTaskTimeout:      time.Minute,
		GracefulShutdownTimeout: 5 * time.Second,
	}
}

func newTestScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()
	s := New(testSchedulerConfig(workers), nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func submit(t *testing.T, s *Scheduler, spec TaskSpec) string {
	t.Helper()
	id, err := s.Register(spec)
	require.NoError(t, err)
	require.NoError(t, s.Execute(id))
	return id
}

func waitFor(t *testing.T, s *Scheduler, id string) TaskInfo {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := s.Wait(ctx, id)
	require.NoError(t, err)
	return info
}

func TestRegisterValidation(t *testing.T) {
	s := newTestScheduler(t, 1)

	_, err := s.Register(TaskSpec{Name: "no-func"})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindValidation))

	_, err = s.Register(TaskSpec{
		Func:     func(_ context.Context) (any, error) { return nil, nil },
		Priority: config.TaskPriority("urgent"),
	})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindValidation))
}

func TestTaskCompletes(t *testing.T) {
	s := newTestScheduler(t, 2)
	s.Start()

	id := submit(t, s, TaskSpec{
		Name: "answer",
		Func: func(_ context.Context) (any, error) { return 42, nil },
	})

	info := waitFor(t, s, id)
	assert.Equal(t, StatusCompleted, info.Status)
	assert.Equal(t, 42, info.Result)
	assert.NoError(t, info.Err)
	require.NotNil(t, info.StartedAt)
	require.NotNil(t, info.CompletedAt)
}

func TestTaskFails(t *testing.T) {
	s := newTestScheduler(t, 1)
	s.Start()

	boom := errors.New("boom")
	id := submit(t, s, TaskSpec{
		Name: "broken",
		Func: func(_ context.Context) (any, error) { return nil, boom },
	})

	info := waitFor(t, s, id)
	assert.Equal(t, StatusFailed, info.Status)
	assert.ErrorIs(t, info.Err, boom)
}

func TestTaskPanicBecomesFailure(t *testing.T) {
	s := newTestScheduler(t, 1)
	s.Start()

	id := submit(t, s, TaskSpec{
		Name: "panicky",
		Func: func(_ context.Context) (any, error) { panic("kaboom") },
	})

	info := waitFor(t, s, id)
	assert.Equal(t, StatusFailed, info.Status)
	require.Error(t, info.Err)
	assert.Contains(t, info.Err.Error(), "kaboom")

	// The worker survives the panic.
	again := submit(t, s, TaskSpec{
		Name: "after",
		Func: func(_ context.Context) (any, error) { return "ok", nil },
	})
	assert.Equal(t, StatusCompleted, waitFor(t, s, again).Status)
}

func TestTaskTimeout(t *testing.T) {
	s := newTestScheduler(t, 1)
	s.Start()

	id := submit(t, s, TaskSpec{
		Name:    "slow",
		Timeout: 30 * time.Millisecond,
		Func: func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	info := waitFor(t, s, id)
	assert.Equal(t, StatusTimeout, info.Status)
	assert.True(t, faults.IsKind(info.Err, faults.KindTimeout))
}

func TestPriorityOrdering(t *testing.T) {
	// Queue everything before starting the single worker so the heap
	// decides the full order.
	s := newTestScheduler(t, 1)

	var mu sync.Mutex
	var order []string
	record := func(name string) Func {
		return func(_ context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	ids := []string{
		submit(t, s, TaskSpec{Name: "low", Priority: config.PriorityLow, Func: record("low")}),
		submit(t, s, TaskSpec{Name: "critical", Priority: config.PriorityCritical, Func: record("critical")}),
		submit(t, s, TaskSpec{Name: "normal-1", Priority: config.PriorityNormal, Func: record("normal-1")}),
		submit(t, s, TaskSpec{Name: "high", Priority: config.PriorityHigh, Func: record("high")}),
		submit(t, s, TaskSpec{Name: "normal-2", Priority: config.PriorityNormal, Func: record("normal-2")}),
	}

	s.Start()
	for _, id := range ids {
		waitFor(t, s, id)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"critical", "high", "normal-1", "normal-2", "low"}, order)
}

func TestDependencyGating(t *testing.T) {
	s := newTestScheduler(t, 2)
	s.Start()

	release := make(chan struct{})
	depID := submit(t, s, TaskSpec{
		Name: "dep",
		Func: func(_ context.Context) (any, error) {
			<-release
			return "dep-result", nil
		},
	})

	childID, err := s.Register(TaskSpec{
		Name:         "child",
		Dependencies: []string{depID},
		Func:         func(_ context.Context) (any, error) { return "child-result", nil },
	})
	require.NoError(t, err)
	require.NoError(t, s.Execute(childID))

	// The child parks as waiting while the dependency runs.
	assert.Eventually(t, func() bool {
		info, ok := s.Get(childID)
		return ok && info.Status == StatusWaiting
	}, time.Second, 5*time.Millisecond)

	close(release)

	assert.Equal(t, StatusCompleted, waitFor(t, s, depID).Status)
	child := waitFor(t, s, childID)
	assert.Equal(t, StatusCompleted, child.Status)
	assert.Equal(t, "child-result", child.Result)
}

func TestFailedDependencyCascades(t *testing.T) {
	s := newTestScheduler(t, 2)
	s.Start()

	release := make(chan struct{})
	rootID := submit(t, s, TaskSpec{
		Name: "root",
		Func: func(_ context.Context) (any, error) {
			<-release
			return nil, errors.New("root failed")
		},
	})

	midID, err := s.Register(TaskSpec{
		Name:         "mid",
		Dependencies: []string{rootID},
		Func:         func(_ context.Context) (any, error) { return nil, nil },
	})
	require.NoError(t, err)
	require.NoError(t, s.Execute(midID))

	leafID, err := s.Register(TaskSpec{
		Name:         "leaf",
		Dependencies: []string{midID},
		Func:         func(_ context.Context) (any, error) { return nil, nil },
	})
	require.NoError(t, err)
	require.NoError(t, s.Execute(leafID))

	close(release)

	mid := waitFor(t, s, midID)
	assert.Equal(t, StatusFailed, mid.Status)
	assert.True(t, faults.IsKind(mid.Err, faults.KindDependency))

	leaf := waitFor(t, s, leafID)
	assert.Equal(t, StatusFailed, leaf.Status)
	assert.True(t, faults.IsKind(leaf.Err, faults.KindDependency))
}

func TestExecutePreChecks(t *testing.T) {
	s := newTestScheduler(t, 1)

	err := s.Execute("no-such-task")
	assert.True(t, faults.IsKind(err, faults.KindNotFound))

	id, err := s.Register(TaskSpec{
		Func: func(_ context.Context) (any, error) { return nil, nil },
	})
	require.NoError(t, err)
	require.NoError(t, s.Execute(id))

	err = s.Execute(id)
	assert.True(t, faults.IsKind(err, faults.KindState))

	orphan, err := s.Register(TaskSpec{
		Dependencies: []string{"missing-dep"},
		Func:         func(_ context.Context) (any, error) { return nil, nil },
	})
	require.NoError(t, err)
	err = s.Execute(orphan)
	assert.True(t, faults.IsKind(err, faults.KindDependency))
}

func TestExecuteWithAlreadyFailedDependency(t *testing.T) {
	s := newTestScheduler(t, 1)
	s.Start()

	depID := submit(t, s, TaskSpec{
		Name: "dep",
		Func: func(_ context.Context) (any, error) { return nil, errors.New("nope") },
	})
	waitFor(t, s, depID)

	childID, err := s.Register(TaskSpec{
		Name:         "child",
		Dependencies: []string{depID},
		Func:         func(_ context.Context) (any, error) { return nil, nil },
	})
	require.NoError(t, err)

	// Submission succeeds; the task fails on the spot.
	require.NoError(t, s.Execute(childID))
	child := waitFor(t, s, childID)
	assert.Equal(t, StatusFailed, child.Status)
	assert.True(t, faults.IsKind(child.Err, faults.KindDependency))
}

func TestQueueCapacity(t *testing.T) {
	cfg := testSchedulerConfig(1)
	cfg.QueueCapacity = 1
	s := New(cfg, nil, nil)

	first, err := s.Register(TaskSpec{Func: func(_ context.Context) (any, error) { return nil, nil }})
	require.NoError(t, err)
	require.NoError(t, s.Execute(first))

	second, err := s.Register(TaskSpec{Func: func(_ context.Context) (any, error) { return nil, nil }})
	require.NoError(t, err)
	err = s.Execute(second)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindResource))
}

func TestCancelQueuedTask(t *testing.T) {
	s := newTestScheduler(t, 1)
	// Not started: the task sits in the queue.

	id := submit(t, s, TaskSpec{
		Func: func(_ context.Context) (any, error) { return nil, nil },
	})

	assert.True(t, s.Cancel(id))
	info := waitFor(t, s, id)
	assert.Equal(t, StatusCancelled, info.Status)

	// Terminal tasks cannot be cancelled again.
	assert.False(t, s.Cancel(id))
	assert.False(t, s.Cancel("unknown"))
}

func TestCancelWaitingTaskCascades(t *testing.T) {
	s := newTestScheduler(t, 1)

	depID := submit(t, s, TaskSpec{
		Name: "dep",
		Func: func(_ context.Context) (any, error) { return nil, nil },
	})
	childID, err := s.Register(TaskSpec{
		Name:         "child",
		Dependencies: []string{depID},
		Func:         func(_ context.Context) (any, error) { return nil, nil },
	})
	require.NoError(t, err)
	require.NoError(t, s.Execute(childID))

	grandID, err := s.Register(TaskSpec{
		Name:         "grand",
		Dependencies: []string{childID},
		Func:         func(_ context.Context) (any, error) { return nil, nil },
	})
	require.NoError(t, err)
	require.NoError(t, s.Execute(grandID))

	require.True(t, s.Cancel(childID))
	assert.Equal(t, StatusCancelled, waitFor(t, s, childID).Status)

	grand := waitFor(t, s, grandID)
	assert.Equal(t, StatusFailed, grand.Status)
	assert.True(t, faults.IsKind(grand.Err, faults.KindDependency))
}

func TestCancelRunningTask(t *testing.T) {
	s := newTestScheduler(t, 1)
	s.Start()

	started := make(chan struct{})
	id := submit(t, s, TaskSpec{
		Name: "long",
		Func: func(ctx context.Context) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	<-started
	assert.True(t, s.Cancel(id))

	info := waitFor(t, s, id)
	assert.Equal(t, StatusCancelled, info.Status)
}

func TestWaitContextExpiry(t *testing.T) {
	s := newTestScheduler(t, 1)
	// Never started, so the task never finishes.
	id := submit(t, s, TaskSpec{
		Func: func(_ context.Context) (any, error) { return nil, nil },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Wait(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = s.Wait(context.Background(), "unknown")
	assert.True(t, faults.IsKind(err, faults.KindNotFound))
}

func TestByStatusAndByTag(t *testing.T) {
	s := newTestScheduler(t, 1)

	a := submit(t, s, TaskSpec{
		Name: "a",
		Tags: []string{"research"},
		Func: func(_ context.Context) (any, error) { return nil, nil },
	})
	b, err := s.Register(TaskSpec{
		Name: "b",
		Tags: []string{"research", "branch"},
		Func: func(_ context.Context) (any, error) { return nil, nil },
	})
	require.NoError(t, err)

	pending := s.ByStatus(StatusPending)
	require.Len(t, pending, 2)
	assert.Equal(t, a, pending[0].ID, "oldest first")
	assert.Equal(t, b, pending[1].ID)

	tagged := s.ByTag("branch")
	require.Len(t, tagged, 1)
	assert.Equal(t, b, tagged[0].ID)
}

func TestSnapshot(t *testing.T) {
	s := newTestScheduler(t, 3)

	queued := submit(t, s, TaskSpec{
		Func: func(_ context.Context) (any, error) { return nil, nil },
	})
	waiting, err := s.Register(TaskSpec{
		Dependencies: []string{queued},
		Func:         func(_ context.Context) (any, error) { return nil, nil },
	})
	require.NoError(t, err)
	require.NoError(t, s.Execute(waiting))

	snap := s.Snapshot()
	assert.Equal(t, 3, snap.Workers)
	assert.Equal(t, 1, snap.Queued)
	assert.Equal(t, 1, snap.Waiting)
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 1, snap.ByStatus[StatusPending])
	assert.Equal(t, 1, snap.ByStatus[StatusWaiting])
}

func TestForget(t *testing.T) {
	s := newTestScheduler(t, 1)
	s.Start()

	id := submit(t, s, TaskSpec{
		Func: func(_ context.Context) (any, error) { return nil, nil },
	})
	waitFor(t, s, id)

	assert.True(t, s.Forget(id))
	_, ok := s.Get(id)
	assert.False(t, ok)
	assert.False(t, s.Forget(id))

	live := submit(t, s, TaskSpec{
		Func: func(ctx context.Context) (any, error) { <-ctx.Done(); return nil, ctx.Err() },
	})
	assert.False(t, s.Forget(live), "live tasks are not forgettable")
	s.Cancel(live)
	waitFor(t, s, live)
}

func TestGracefulStopDrainsRunningTask(t *testing.T) {
	s := New(testSchedulerConfig(1), nil, nil)
	s.Start()

	finished := make(chan struct{})
	id := submit(t, s, TaskSpec{
		Func: func(_ context.Context) (any, error) {
			time.Sleep(50 * time.Millisecond)
			close(finished)
			return "done", nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)

	select {
	case <-finished:
	default:
		t.Fatal("Stop returned before the running task finished")
	}
	info, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, info.Status)
}

func TestStopDeadlineCancelsRunningTask(t *testing.T) {
	cfg := testSchedulerConfig(1)
	cfg.GracefulShutdownTimeout = 30 * time.Millisecond
	s := New(cfg, nil, nil)
	s.Start()

	started := make(chan struct{})
	id := submit(t, s, TaskSpec{
		Func: func(ctx context.Context) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)

	info, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, info.Status)
}

func TestTaskLifecycleEvents(t *testing.T) {
	bus := events.NewBus()
	var mu sync.Mutex
	var seen []string
	bus.Subscribe(events.WildcardType, func(ev events.Event) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	})

	s := New(testSchedulerConfig(1), events.NewPublisher(bus), nil)
	t.Cleanup(func() { s.Stop(context.Background()) })
	s.Start()

	depID := submit(t, s, TaskSpec{
		Name: "dep",
		Func: func(_ context.Context) (any, error) { return nil, nil },
	})
	childID, err := s.Register(TaskSpec{
		Name:         "child",
		Dependencies: []string{depID},
		Func:         func(_ context.Context) (any, error) { return nil, nil },
	})
	require.NoError(t, err)
	require.NoError(t, s.Execute(childID))

	waitFor(t, s, depID)
	waitFor(t, s, childID)

	counts := func() map[string]int {
		mu.Lock()
		defer mu.Unlock()
		out := make(map[string]int)
		for _, typ := range seen {
			out[typ]++
		}
		return out
	}
	assert.Eventually(t, func() bool {
		c := counts()
		return c[events.EventTypeTaskCompleted] == 2
	}, time.Second, 5*time.Millisecond)

	c := counts()
	assert.Equal(t, 2, c[events.EventTypeTaskSubmitted])
	assert.Equal(t, 2, c[events.EventTypeTaskStarted])
	assert.GreaterOrEqual(t, c[events.EventTypeTaskReady], 1, "child must fire task.ready when released")
}

func TestReadyQueueOrdering(t *testing.T) {
	tasks := []*task{
		{id: "n1", priority: config.PriorityNormal, seq: 1, heapIndex: -1},
		{id: "c", priority: config.PriorityCritical, seq: 2, heapIndex: -1},
		{id: "n2", priority: config.PriorityNormal, seq: 3, heapIndex: -1},
		{id: "l", priority: config.PriorityLow, seq: 4, heapIndex: -1},
		{id: "h", priority: config.PriorityHigh, seq: 5, heapIndex: -1},
	}

	var q readyQueue
	for _, tk := range tasks {
		heap.Push(&q, tk)
	}

	var got []string
	for q.Len() > 0 {
		got = append(got, heap.Pop(&q).(*task).id)
	}
	assert.Equal(t, []string{"c", "h", "n1", "n2", "l"}, got)
}
