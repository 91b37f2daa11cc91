// Package resilience provides composable call-hardening strategies:
// retry with backoff, circuit breaking, fallback, and bounded-staleness
// caching. Strategies wrap a Call and compose so the first strategy in
// a chain sits outermost.
package resilience

import "context"

// Op is the unit of work every strategy wraps.
type Op func(ctx context.Context) (any, error)

// Call pairs an Op with its identity. Name keys breakers and logs;
// Key identifies cache entries and is empty for uncacheable calls.
type Call struct {
	Name string
	Key  string
	Do   Op
}

// Strategy decorates a Call with additional failure handling.
type Strategy interface {
	Apply(call *Call) *Call
}

// Compose chains strategies so the first is outermost:
// Compose(a, b, c) behaves as a(b(c(op))).
func Compose(strategies ...Strategy) Strategy {
	return composite(strategies)
}

type composite []Strategy

func (c composite) Apply(call *Call) *Call {
	for i := len(c) - 1; i >= 0; i-- {
		call = c[i].Apply(call)
	}
	return call
}

// Execute wraps the call with the given strategies and runs it.
func Execute(ctx context.Context, call *Call, strategies ...Strategy) (any, error) {
	return Compose(strategies...).Apply(call).Do(ctx)
}
