package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/probelab/delver/pkg/faults"
)

// Cache serves a bounded-stale result when the primary fails with a
// handled error. The primary is always attempted first; a success
// refreshes the store. On a handled failure, a stored result younger
// than TTL substitutes; otherwise the error propagates. Calls without
// a Key pass through untouched.
type Cache struct {
	// Store holds the cached results.
	Store *Store

	// TTL is the maximum staleness a substitute result may have.
	TTL time.Duration

	// Handled restricts stale serving to the listed error kinds.
	// Empty handles every classified error.
	Handled []faults.Kind
}

// Apply wraps the call with the stale-serving cache.
func (c *Cache) Apply(call *Call) *Call {
	key := call.Key
	if key == "" {
		return call
	}

	next := call.Do
	name := call.Name
	log := slog.Default().With("component", "resilience.cache")

	wrapped := func(ctx context.Context) (any, error) {
		result, err := next(ctx)
		if err == nil {
			c.Store.Set(key, result)
			return result, nil
		}
		if !handledKind(err, c.Handled) {
			return nil, err
		}

		value, storedAt, ok := c.Store.Get(key)
		if !ok || time.Since(storedAt) > c.TTL {
			return nil, err
		}

		log.Info("Serving cached result after failure",
			"call", name,
			"age", time.Since(storedAt).Round(time.Millisecond),
			"error", err)
		return value, nil
	}

	return &Call{Name: call.Name, Key: key, Do: wrapped}
}

// CacheKey builds a stable key from a function name, its ordered
// arguments, and sorted keyword options.
func CacheKey(name string, args []any, kwargs map[string]any) string {
	var b strings.Builder
	b.WriteString(name)
	for _, a := range args {
		fmt.Fprintf(&b, "|%v", a)
	}
	if len(kwargs) > 0 {
		keys := make([]string, 0, len(kwargs))
		for k := range kwargs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "|%s=%v", k, kwargs[k])
		}
	}
	return b.String()
}
