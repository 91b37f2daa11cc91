package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialRunnerOrder(t *testing.T) {
	var order []int
	results, err := SerialRunner{}.RunBranches(context.Background(), 4, func(_ context.Context, i int) (any, error) {
		order = append(order, i)
		return i * 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, order)
	assert.Equal(t, []any{0, 2, 4, 6}, results)
}

func TestSerialRunnerStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	var ran int
	results, err := SerialRunner{}.RunBranches(context.Background(), 4, func(_ context.Context, i int) (any, error) {
		ran++
		if i == 1 {
			return nil, boom
		}
		return i, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "branch 1")
	assert.Nil(t, results)
	assert.Equal(t, 2, ran, "branches after the failure must not run")
}

func TestSerialRunnerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := SerialRunner{}.RunBranches(ctx, 2, func(_ context.Context, i int) (any, error) {
		t.Fatal("branch must not run with a cancelled context")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParallelRunnerSubmissionOrder(t *testing.T) {
	results, err := NewParallelRunner(0).RunBranches(context.Background(), 5, func(_ context.Context, i int) (any, error) {
		// Later branches finish first to prove ordering is by index.
		time.Sleep(time.Duration(5-i) * 5 * time.Millisecond)
		return i * 10, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []any{0, 10, 20, 30, 40}, results)
}

func TestParallelRunnerRunsAllBranchesOnFailure(t *testing.T) {
	errSlow := errors.New("slow failure")
	errFast := errors.New("fast failure")
	var ran int32

	_, err := NewParallelRunner(4).RunBranches(context.Background(), 4, func(_ context.Context, i int) (any, error) {
		atomic.AddInt32(&ran, 1)
		switch i {
		case 0:
			time.Sleep(30 * time.Millisecond)
			return nil, errSlow
		case 2:
			return nil, errFast
		default:
			return i, nil
		}
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errSlow, "first failure by submission order wins")
	assert.NotErrorIs(t, err, errFast)
	assert.Contains(t, err.Error(), "branch 0")
	assert.Equal(t, int32(4), atomic.LoadInt32(&ran), "all branches must run to completion")
}

func TestParallelRunnerConcurrencyCap(t *testing.T) {
	const limit = 2
	var current, peak int32

	_, err := NewParallelRunner(limit).RunBranches(context.Background(), 8, func(_ context.Context, _ int) (any, error) {
		c := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if c <= p || atomic.CompareAndSwapInt32(&peak, p, c) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return nil, nil
	})

	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(limit))
}

func TestParallelRunnerCancelledAcquire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewParallelRunner(1).RunBranches(ctx, 3, func(_ context.Context, _ int) (any, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
