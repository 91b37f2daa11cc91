// Package config loads, merges, and validates delver configuration
// from YAML files, built-in defaults, and environment overrides.
package config

// Config is the umbrella configuration object that encapsulates all
// sections, defaults, and the provider registry. This is the primary
// object returned by Initialize() and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// Server and transport
	Server *ServerConfig

	// Flow admission and retention
	Flows *FlowsConfig

	// Scheduler and worker pool
	Scheduler *SchedulerConfig

	// Research flow defaults
	Research *ResearchConfig

	// Search backends and cache bound
	Search *SearchConfig

	// Error reporter and alert rules
	Reporter *ReporterConfig

	// Slack alert channel
	Slack *SlackConfig

	// Retry and breaker defaults
	Resilience *ResilienceConfig

	// Model provider registry
	ModelRegistry *ModelProviderRegistry

	// Default model provider name
	DefaultProvider string
}

// Initialize is defined in loader.go

// Stats contains statistics about loaded configuration
type Stats struct {
	Backends   int
	Providers  int
	AlertRules int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.Search != nil {
		s.Backends = len(c.Search.Backends)
	}
	if c.ModelRegistry != nil {
		s.Providers = c.ModelRegistry.Len()
	}
	if c.Reporter != nil {
		s.AlertRules = len(c.Reporter.Rules)
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetBackend retrieves a search backend configuration by tag.
func (c *Config) GetBackend(tag string) (*BackendConfig, error) {
	if b, ok := c.Search.Backends[tag]; ok {
		return b, nil
	}
	return nil, NewValidationError("search", tag, "", ErrBackendNotFound)
}

// GetProvider retrieves a model provider configuration by name.
// This is a convenience method that wraps ModelRegistry.Get().
func (c *Config) GetProvider(name string) (*ModelProviderConfig, error) {
	return c.ModelRegistry.Get(name)
}

// Default returns a fully defaulted configuration without touching the
// filesystem. Used by tests and by embedding callers that configure
// programmatically.
func Default() *Config {
	models := DefaultModelsConfig()
	return &Config{
		Server:          DefaultServerConfig(),
		Flows:           DefaultFlowsConfig(),
		Scheduler:       DefaultSchedulerConfig(),
		Research:        DefaultResearchConfig(),
		Search:          DefaultSearchConfig(),
		Reporter:        DefaultReporterConfig(),
		Slack:           DefaultSlackConfig(),
		Resilience:      DefaultResilienceConfig(),
		ModelRegistry:   NewModelProviderRegistry(models.Providers),
		DefaultProvider: models.DefaultProvider,
	}
}
