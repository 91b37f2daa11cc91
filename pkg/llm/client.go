package llm

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
	"github.com/probelab/delver/pkg/metrics"
	"github.com/probelab/delver/pkg/resilience"
)

// Client routes completion calls to the configured providers. Every
// call runs through the process retry policy and a circuit breaker
// keyed "llm:<provider>:<model>", so one misbehaving model sheds load
// without darkening the whole provider.
type Client struct {
	mu     sync.RWMutex
	models map[string]Model

	defaultProvider string
	defaults        map[string]string // provider -> default model

	retry       *resilience.Retry
	breakers    *resilience.BreakerRegistry
	breakerBase resilience.BreakerSettings

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewClient builds adapters for every provider whose credentials are
// present and wires them to the shared breaker registry.
func NewClient(cfg *config.Config, breakers *resilience.BreakerRegistry, m *metrics.Metrics) *Client {
	c := &Client{
		models:          make(map[string]Model),
		defaults:        make(map[string]string),
		defaultProvider: cfg.DefaultProvider,
		retry:           resilience.NewRetry(cfg.Resilience.Retry),
		breakers:        breakers,
		breakerBase:     resilience.BreakerSettingsFromConfig(cfg.Resilience.Breaker),
		metrics:         m,
		logger:          slog.Default().With("component", "llm.client"),
	}

	for name, pc := range cfg.ModelRegistry.GetAll() {
		model, ok := c.build(name, pc)
		if !ok {
			continue
		}
		c.models[name] = model
		c.defaults[name] = pc.Model
	}

	c.logger.Info("Model client initialized",
		"providers", c.Providers(), "default", c.defaultProvider)
	return c
}

func (c *Client) build(name string, pc *config.ModelProviderConfig) (Model, bool) {
	switch pc.Type {
	case config.ProviderTypeOpenAI:
		key := ""
		if pc.APIKeyEnv != "" {
			key = os.Getenv(pc.APIKeyEnv)
			if key == "" {
				c.logger.Info("Model provider unavailable, credential not set",
					"provider", name, "env", pc.APIKeyEnv)
				return nil, false
			}
		}
		return NewOpenAI(name, key, pc), true
	case config.ProviderTypeScript:
		return NewScripted(name, nil), true
	default:
		c.logger.Warn("Unknown model provider type", "provider", name, "type", pc.Type)
		return nil, false
	}
}

// Register adds a model adapter, replacing any previous one under the
// same provider name.
func (c *Client) Register(model Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[model.Provider()] = model
}

// Providers lists the available provider names in sorted order.
func (c *Client) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.models))
	for name := range c.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a provider is available.
func (c *Client) Has(provider string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.models[provider]
	return ok
}

// Generate runs one completion against the model named by spec. A spec
// is "provider:model", a bare model name served by the default
// provider, or empty for the default provider's default model.
func (c *Client) Generate(ctx context.Context, spec string, req Request) (*Response, error) {
	provider, modelName := c.resolve(spec)

	c.mu.RLock()
	model, ok := c.models[provider]
	c.mu.RUnlock()
	if !ok {
		return nil, faults.Configuration("model provider not available").
			With("provider", provider).
			With("known", c.Providers())
	}
	if modelName == "" {
		modelName = c.defaults[provider]
	}
	req.Model = modelName

	breaker := c.breakers.Get("llm:"+provider+":"+modelName, c.breakerBase)
	op := func(ctx context.Context) (any, error) {
		return breaker.Do(ctx, func(ctx context.Context) (any, error) {
			return model.Generate(ctx, req)
		})
	}

	start := time.Now()
	result, err := c.retry.Apply(&resilience.Call{Name: "llm." + provider, Do: op}).Do(ctx)
	elapsed := time.Since(start)

	if err != nil {
		c.metrics.RecordLLMRequest(provider, "failure")
		c.logger.Warn("Model call failed",
			"provider", provider, "model", modelName,
			"duration", elapsed.Round(time.Millisecond), "error", err)
		return nil, err
	}

	resp, _ := result.(*Response)
	c.metrics.RecordLLMRequest(provider, "success")
	if resp != nil {
		c.metrics.RecordLLMTokens(provider, resp.PromptTokens, resp.CompletionTokens)
	}
	c.logger.Debug("Model call completed",
		"provider", provider, "model", modelName,
		"duration", elapsed.Round(time.Millisecond))
	return resp, nil
}

// resolve splits a model spec into provider and model. The model part
// may itself contain colons (some vendors version with them), so only
// the first colon splits when the prefix names a known provider.
func (c *Client) resolve(spec string) (provider, model string) {
	if spec == "" {
		return c.defaultProvider, ""
	}
	if prefix, rest, ok := strings.Cut(spec, ":"); ok && c.Has(prefix) {
		return prefix, rest
	}
	return c.defaultProvider, spec
}
