// Package search provides the uniform adapter layer over external search
// providers and the registry that routes queries through rate limits,
// circuit breakers, retries, a read-through cache, and fallback backends.
package search

import (
	"context"

	"github.com/probelab/delver/pkg/models"
)

// Backend is one search provider adapter.
type Backend interface {
	// Name returns the backend tag used in configuration and metrics.
	Name() string

	// RateLimit advertises the provider's sustainable request rate in
	// requests per minute. Configuration may override it.
	RateLimit() int

	// Search runs one query. Implementations return provider failures as
	// taxonomy errors; an empty hit list with a nil error is a valid
	// result for queries that simply match nothing.
	Search(ctx context.Context, req models.SearchRequest) ([]models.SearchHit, error)
}
