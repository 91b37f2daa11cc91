package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/delver/pkg/faults"
)

func testRetry(attempts int) *Retry {
	return &Retry{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    50 * time.Millisecond,
		Jitter:      JitterNone,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	call := &Call{
		Name: "search:tavily",
		Do: func(ctx context.Context) (any, error) {
			calls++
			if calls < 3 {
				return nil, faults.Unavailable("search")
			}
			return "ok", nil
		},
	}

	result, err := Execute(context.Background(), call, testRetry(3))
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	call := &Call{
		Name: "op",
		Do: func(ctx context.Context) (any, error) {
			calls++
			return nil, faults.Validation("bad query")
		},
	}

	_, err := Execute(context.Background(), call, testRetry(3))
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, faults.IsKind(err, faults.KindValidation))
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	call := &Call{
		Name: "op",
		Do: func(ctx context.Context) (any, error) {
			calls++
			return nil, faults.Timeout("op")
		},
	}

	_, err := Execute(context.Background(), call, testRetry(3))
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, faults.IsKind(err, faults.KindTimeout))
}

func TestRetryPlainErrorsNotRetried(t *testing.T) {
	calls := 0
	call := &Call{
		Name: "op",
		Do: func(ctx context.Context) (any, error) {
			calls++
			return nil, errors.New("unclassified")
		},
	}

	_, err := Execute(context.Background(), call, testRetry(3))
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	call := &Call{
		Name: "op",
		Do: func(ctx context.Context) (any, error) {
			calls++
			cancel()
			return nil, faults.Timeout("op")
		},
	}

	r := testRetry(3)
	r.BaseDelay = time.Hour // would hang without the ctx check

	start := time.Now()
	_, err := Execute(ctx, call, r)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetryHonorsRetryAfterHint(t *testing.T) {
	calls := 0
	call := &Call{
		Name: "op",
		Do: func(ctx context.Context) (any, error) {
			calls++
			if calls == 1 {
				return nil, faults.RateLimited("search", 30*time.Millisecond)
			}
			return "ok", nil
		},
	}

	start := time.Now()
	result, err := Execute(context.Background(), call, testRetry(2))
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestRetryCustomRetryableKinds(t *testing.T) {
	r := testRetry(3).WithRetryable(faults.KindAPIError)

	calls := 0
	call := &Call{
		Name: "op",
		Do: func(ctx context.Context) (any, error) {
			calls++
			// Transient, but not in the configured retryable set.
			return nil, faults.Timeout("op")
		},
	}

	_, err := Execute(context.Background(), call, r)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoffGrowthAndCap(t *testing.T) {
	r := &Retry{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    300 * time.Millisecond,
		Jitter:      JitterNone,
	}

	assert.Equal(t, 100*time.Millisecond, r.backoff(1))
	assert.Equal(t, 200*time.Millisecond, r.backoff(2))
	assert.Equal(t, 300*time.Millisecond, r.backoff(3), "capped")
	assert.Equal(t, 300*time.Millisecond, r.backoff(4), "still capped")
}

func TestBackoffUniformJitterBounds(t *testing.T) {
	r := &Retry{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      JitterUniform,
	}

	for i := 0; i < 100; i++ {
		d := r.backoff(2) // raw backoff 200ms
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}
