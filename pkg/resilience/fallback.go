package resilience

import (
	"context"
	"log/slog"

	"github.com/probelab/delver/pkg/faults"
)

// Fallback invokes a substitute op when the primary fails with a
// handled error. The fallback's own error propagates; non-handled
// primary errors bypass the fallback entirely.
type Fallback struct {
	// Fn is the substitute invoked on a handled failure.
	Fn Op

	// Handled restricts the fallback to the listed error kinds. Empty
	// handles every classified error.
	Handled []faults.Kind
}

// Apply wraps the call with the fallback.
func (f *Fallback) Apply(call *Call) *Call {
	next := call.Do
	name := call.Name
	log := slog.Default().With("component", "resilience.fallback")

	wrapped := func(ctx context.Context) (any, error) {
		result, err := next(ctx)
		if err == nil {
			return result, nil
		}
		if !handledKind(err, f.Handled) {
			return nil, err
		}

		log.Debug("Primary failed, invoking fallback", "call", name, "error", err)
		return f.Fn(ctx)
	}

	return &Call{Name: call.Name, Key: call.Key, Do: wrapped}
}

// handledKind reports whether the error's kind is in the handled set.
// An empty set handles every error that classifies to a kind.
func handledKind(err error, handled []faults.Kind) bool {
	kind := faults.KindOf(err)
	if kind == "" {
		return false
	}
	if len(handled) == 0 {
		return true
	}
	for _, k := range handled {
		if kind == k {
			return true
		}
	}
	return false
}
