package pipeline

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BranchRunner executes the branches of a fan-out node and returns
// their results in submission order.
type BranchRunner interface {
	RunBranches(ctx context.Context, n int, run func(ctx context.Context, i int) (any, error)) ([]any, error)
}

// SerialRunner runs branches one at a time and stops at the first
// failure. It is the engine default.
type SerialRunner struct{}

func (SerialRunner) RunBranches(ctx context.Context, n int, run func(ctx context.Context, i int) (any, error)) ([]any, error) {
	results := make([]any, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := run(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("branch %d: %w", i, err)
		}
		results[i] = out
	}
	return results, nil
}

// ParallelRunner runs each branch on its own goroutine, capped by a
// weighted semaphore. Started branches always run to completion; when
// one fails the error reported is the first failure in submission
// order, not arrival order.
type ParallelRunner struct {
	sem *semaphore.Weighted
}

// NewParallelRunner caps in-flight branches at limit. Zero or a
// negative limit means unbounded.
func NewParallelRunner(limit int) *ParallelRunner {
	r := &ParallelRunner{}
	if limit > 0 {
		r.sem = semaphore.NewWeighted(int64(limit))
	}
	return r
}

func (r *ParallelRunner) RunBranches(ctx context.Context, n int, run func(ctx context.Context, i int) (any, error)) ([]any, error) {
	results := make([]any, n)
	errs := make([]error, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		if r.sem != nil {
			if err := r.sem.Acquire(ctx, 1); err != nil {
				errs[i] = err
				break
			}
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if r.sem != nil {
				defer r.sem.Release(1)
			}
			results[idx], errs[idx] = run(ctx, idx)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("branch %d: %w", i, err)
		}
	}
	return results, nil
}
