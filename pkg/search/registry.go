package search

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
	"github.com/probelab/delver/pkg/metrics"
	"github.com/probelab/delver/pkg/models"
	"github.com/probelab/delver/pkg/reporter"
	"github.com/probelab/delver/pkg/resilience"
)

// Registry fronts the configured search backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	limiters map[string]*rate.Limiter

	breakers    *resilience.BreakerRegistry
	breakerBase resilience.BreakerSettings
	retryBase   config.RetryConfig
	store       *resilience.Store

	reporter *reporter.Reporter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewRegistry builds the registry and instantiates every backend whose
// credentials are present. Keyless backends are always available.
// Breakers come from the shared breaker registry under "search:<tag>"
// names so their state shows up in the system health snapshot.
func NewRegistry(cfg *config.Config, breakers *resilience.BreakerRegistry, rep *reporter.Reporter, m *metrics.Metrics) *Registry {
	r := &Registry{
		backends:    make(map[string]Backend),
		limiters:    make(map[string]*rate.Limiter),
		breakers:    breakers,
		breakerBase: resilience.BreakerSettingsFromConfig(cfg.Resilience.Breaker),
		retryBase:   *cfg.Resilience.Retry,
		store:       resilience.NewStore(cfg.Search.CacheMaxEntries),
		reporter:    rep,
		metrics:     m,
		logger:      slog.Default().With("component", "search.registry"),
	}

	for _, tag := range config.KnownBackends() {
		bc := cfg.Search.Backends[tag]
		if bc == nil {
			continue
		}
		backend, ok := r.build(tag, bc)
		if !ok {
			continue
		}
		r.register(backend, limiterFor(bc.RequestsPerMinute, bc.Burst))
	}

	r.logger.Info("Search registry initialized", "backends", r.Backends())
	return r
}

// build constructs one backend adapter, or reports false when a
// required credential is missing.
func (r *Registry) build(tag string, bc *config.BackendConfig) (Backend, bool) {
	switch tag {
	case config.BackendTavily:
		key, ok := r.requireEnv(tag, bc.APIKeyEnv)
		if !ok {
			return nil, false
		}
		return NewTavily(key, bc), true
	case config.BackendPerplexity:
		key, ok := r.requireEnv(tag, bc.APIKeyEnv)
		if !ok {
			return nil, false
		}
		return NewPerplexity(key, bc), true
	case config.BackendExa:
		key, ok := r.requireEnv(tag, bc.APIKeyEnv)
		if !ok {
			return nil, false
		}
		return NewExa(key, bc), true
	case config.BackendArxiv:
		return NewArxiv(bc), true
	case config.BackendPubMed:
		// The NCBI key only raises the rate limit, so its absence
		// does not disable the backend.
		return NewPubMed(os.Getenv(bc.APIKeyEnv), bc), true
	case config.BackendLinkUp:
		key, ok := r.requireEnv(tag, bc.APIKeyEnv)
		if !ok {
			return nil, false
		}
		return NewLinkUp(key, bc), true
	case config.BackendDuckDuckGo:
		return NewDuckDuckGo(bc), true
	case config.BackendGoogle:
		key, ok := r.requireEnv(tag, bc.APIKeyEnv)
		if !ok {
			return nil, false
		}
		engineID, ok := r.requireEnv(tag, bc.ExtraEnv["cx"])
		if !ok {
			return nil, false
		}
		return NewGoogle(key, engineID, bc), true
	default:
		r.logger.Warn("Unknown search backend tag", "backend", tag)
		return nil, false
	}
}

func (r *Registry) requireEnv(tag, env string) (string, bool) {
	if env == "" {
		return "", false
	}
	value := os.Getenv(env)
	if value == "" {
		r.logger.Info("Search backend unavailable, credential not set", "backend", tag, "env", env)
		return "", false
	}
	return value, true
}

// Register adds a backend, replacing any previous one under the same
// name. Its rate limit comes from Backend.RateLimit.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = b
	r.limiters[b.Name()] = limiterFor(float64(b.RateLimit()), 1)
}

func (r *Registry) register(b Backend, limiter *rate.Limiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = b
	r.limiters[b.Name()] = limiter
}

// limiterFor converts a requests-per-minute budget into a token
// bucket. A non-positive budget means unlimited.
func limiterFor(rpm float64, burst int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rpm/60.0), burst)
}

// Backends lists the available backend tags in sorted order.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.backends))
	for tag := range r.backends {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Has reports whether a backend is available.
func (r *Registry) Has(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[tag]
	return ok
}

// Cache exposes the result store so retention sweeps can prune it.
func (r *Registry) Cache() *resilience.Store {
	return r.store
}

// Execute runs the query against the primary backend named by the
// research settings, falling back down the configured chain when the
// primary is exhausted. Failures after the whole chain is spent are
// reported, not returned: the caller gets empty hits and a nil error.
// The only error Execute returns is the context's own, so callers can
// distinguish cancellation from an empty result.
func (r *Registry) Execute(ctx context.Context, req models.SearchRequest, rc *config.ResearchConfig) ([]models.SearchHit, string, error) {
	candidates := r.candidates(rc)
	if len(candidates) == 0 {
		err := faults.Configuration("no search backend available").
			With("primary", rc.SearchAPI).
			With("fallbacks", rc.FallbackAPIs)
		r.reporter.Report(err, reporter.WithComponent("search"))
		return []models.SearchHit{}, "", nil
	}

	retry := r.retryFor(rc)
	ttl := rc.CacheTTLDuration()

	var lastErr error
	for i, tag := range candidates {
		backend, limiter := r.lookup(tag)
		if backend == nil {
			continue
		}

		key := ""
		if rc.EnableSearchCache {
			key = cacheKey(tag, req)
			if hits, ok := r.cached(key, ttl); ok {
				r.metrics.RecordSearchCache(true)
				r.logger.Debug("Search cache hit", "backend", tag, "query", truncate(req.Query, 120))
				return hits, tag, nil
			}
			r.metrics.RecordSearchCache(false)
		}

		start := time.Now()
		hits, err := r.searchOnce(ctx, tag, backend, limiter, req, retry)
		elapsed := time.Since(start)

		if err == nil {
			r.metrics.RecordSearch(tag, "success", elapsed)
			if i > 0 {
				r.metrics.RecordSearchFallback(tag)
				r.logger.Info("Fallback search backend served query",
					"backend", tag, "primary", candidates[0])
			}
			if key != "" {
				r.store.Set(key, hits)
			}
			return hits, tag, nil
		}

		r.metrics.RecordSearch(tag, "failure", elapsed)
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		r.logger.Warn("Search backend failed", "backend", tag, "error", err)
		lastErr = err
	}

	r.reporter.Report(lastErr,
		reporter.WithComponent("search"),
		reporter.WithContext(map[string]any{
			"query":    truncate(req.Query, 200),
			"backends": candidates,
		}))
	r.logger.Error("All search backends failed", "backends", candidates, "error", lastErr)
	return []models.SearchHit{}, "", nil
}

// searchOnce runs one backend through its limiter, breaker, and the
// retry policy. The limiter wait sits inside the retried op so every
// attempt pays for its own token.
func (r *Registry) searchOnce(ctx context.Context, tag string, backend Backend, limiter *rate.Limiter, req models.SearchRequest, retry *resilience.Retry) ([]models.SearchHit, error) {
	breaker := r.breakers.Get("search:"+tag, r.breakerBase)

	op := func(ctx context.Context) (any, error) {
		return breaker.Do(ctx, func(ctx context.Context) (any, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return backend.Search(ctx, req)
		})
	}

	call := retry.Apply(&resilience.Call{Name: "search." + tag, Do: op})
	result, err := call.Do(ctx)
	if err != nil {
		return nil, err
	}
	hits, _ := result.([]models.SearchHit)
	return hits, nil
}

// candidates resolves the primary plus fallback chain to the backends
// that are actually available, preserving order and dropping
// duplicates.
func (r *Registry) candidates(rc *config.ResearchConfig) []string {
	tags := []string{rc.SearchAPI}
	if rc.EnableFallbackAPIs {
		tags = append(tags, rc.FallbackAPIs...)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		if _, ok := r.backends[tag]; !ok {
			r.logger.Debug("Skipping unavailable search backend", "backend", tag)
			continue
		}
		out = append(out, tag)
	}
	return out
}

func (r *Registry) lookup(tag string) (Backend, *rate.Limiter) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[tag], r.limiters[tag]
}

func (r *Registry) cached(key string, ttl time.Duration) ([]models.SearchHit, bool) {
	value, ok := r.store.GetFresh(key, ttl)
	if !ok {
		return nil, false
	}
	hits, ok := value.([]models.SearchHit)
	return hits, ok
}

// retryFor derives the retry policy from the flow's research settings,
// keeping the process-wide backoff shape.
func (r *Registry) retryFor(rc *config.ResearchConfig) *resilience.Retry {
	cfg := r.retryBase
	if rc.MaxRetries > 0 {
		cfg.MaxAttempts = rc.MaxRetries
	}
	if rc.RetryDelay > 0 {
		cfg.BaseDelay = rc.RetryDelayDuration()
	}
	return resilience.NewRetry(&cfg)
}

func cacheKey(tag string, req models.SearchRequest) string {
	return resilience.CacheKey("search", []any{req.Query}, map[string]any{
		"backend":     tag,
		"max_results": req.MaxResults,
		"topic":       req.Topic,
		"days":        req.Days,
	})
}
