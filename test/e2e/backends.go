package e2e

import (
	"context"
	"sync"

	"github.com/probelab/delver/pkg/models"
)

// CannedBackend answers every query with one deterministic hit. It can
// be flipped into a failure mode to exercise the fallback chain and the
// circuit breakers.
type CannedBackend struct {
	name string

	mu       sync.Mutex
	calls    int
	failErr  error
	failLeft int
}

// NewCannedBackend builds a healthy backend registered under name.
func NewCannedBackend(name string) *CannedBackend {
	return &CannedBackend{name: name}
}

func (b *CannedBackend) Name() string   { return b.name }
func (b *CannedBackend) RateLimit() int { return 0 }

// FailWith makes every subsequent Search return err. A nil err heals
// the backend.
func (b *CannedBackend) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failErr = err
	b.failLeft = 0
}

// FailNext makes the next n searches return err, after which the
// backend heals itself.
func (b *CannedBackend) FailNext(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failErr = err
	b.failLeft = n
}

// Calls reports how many searches reached the backend.
func (b *CannedBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *CannedBackend) Search(_ context.Context, req models.SearchRequest) ([]models.SearchHit, error) {
	b.mu.Lock()
	b.calls++
	err := b.failErr
	if b.failLeft > 0 {
		b.failLeft--
		if b.failLeft == 0 {
			b.failErr = nil
		}
	}
	b.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return []models.SearchHit{{
		Title:   "hit for " + req.Query,
		URL:     "https://example.org/" + b.name,
		Content: "snippet about " + req.Query,
		Source:  b.name,
	}}, nil
}
