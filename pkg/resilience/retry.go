package resilience

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
)

// JitterMode selects how backoff delays are randomized.
type JitterMode string

const (
	// JitterNone sleeps the exact computed backoff.
	JitterNone JitterMode = "none"
	// JitterUniform scales the backoff by a uniform factor in
	// [0.5, 1.0], spreading out retry storms.
	JitterUniform JitterMode = "uniform"
)

// Retry re-invokes a failed call with exponential backoff. Attempts
// are strictly sequential; the delay before attempt n+1 is
// min(MaxDelay, BaseDelay * Multiplier^(n-1)) scaled by the jitter
// factor. A retry_after hint on the error raises the delay up to
// MaxDelay.
type Retry struct {
	// MaxAttempts is the total number of tries including the first.
	MaxAttempts int

	// BaseDelay is the backoff before the second attempt.
	BaseDelay time.Duration

	// Multiplier grows the backoff per attempt.
	Multiplier float64

	// MaxDelay caps the computed backoff. Zero means no cap.
	MaxDelay time.Duration

	// Jitter selects the randomization mode.
	Jitter JitterMode

	// Retryable restricts retries to the listed error kinds. Empty
	// means the default transient set.
	Retryable []faults.Kind

	log *slog.Logger
}

// NewRetry builds a Retry from configured defaults.
func NewRetry(cfg *config.RetryConfig) *Retry {
	return &Retry{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		Multiplier:  cfg.Multiplier,
		MaxDelay:    cfg.MaxDelay,
		Jitter:      JitterMode(cfg.Jitter),
		log:         slog.Default().With("component", "resilience.retry"),
	}
}

// WithRetryable returns a copy restricted to the given error kinds.
func (r *Retry) WithRetryable(kinds ...faults.Kind) *Retry {
	out := *r
	out.Retryable = kinds
	return &out
}

// Apply wraps the call in the retry loop.
func (r *Retry) Apply(call *Call) *Call {
	next := call.Do
	name := call.Name
	log := r.logger()

	wrapped := func(ctx context.Context) (any, error) {
		var lastErr error
		for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
			result, err := next(ctx)
			if err == nil {
				return result, nil
			}
			lastErr = err

			if !r.retryable(err) {
				return nil, err
			}
			if attempt == r.MaxAttempts {
				break
			}

			delay := r.backoff(attempt)
			if hint := faults.RetryAfter(err); hint > delay {
				delay = hint
				if r.MaxDelay > 0 && delay > r.MaxDelay {
					delay = r.MaxDelay
				}
			}

			log.Debug("Call failed, retrying",
				"call", name,
				"attempt", attempt,
				"max_attempts", r.MaxAttempts,
				"delay", delay,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		log.Warn("Retries exhausted", "call", name, "attempts", r.MaxAttempts, "error", lastErr)
		return nil, lastErr
	}

	return &Call{Name: call.Name, Key: call.Key, Do: wrapped}
}

// backoff computes the capped, jittered delay after the given attempt.
func (r *Retry) backoff(attempt int) time.Duration {
	d := float64(r.BaseDelay) * math.Pow(r.Multiplier, float64(attempt-1))
	if r.MaxDelay > 0 && d > float64(r.MaxDelay) {
		d = float64(r.MaxDelay)
	}
	if r.Jitter == JitterUniform {
		d *= 0.5 + 0.5*rand.Float64()
	}
	return time.Duration(d)
}

func (r *Retry) retryable(err error) bool {
	kind := faults.KindOf(err)
	if kind == "" {
		return false
	}
	if len(r.Retryable) == 0 {
		return faults.IsTransient(err)
	}
	for _, k := range r.Retryable {
		if kind == k {
			return true
		}
	}
	return false
}

func (r *Retry) logger() *slog.Logger {
	if r.log != nil {
		return r.log
	}
	return slog.Default().With("component", "resilience.retry")
}
