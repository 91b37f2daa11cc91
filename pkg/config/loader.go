package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// DelverYAMLConfig represents the complete delver.yaml file structure
type DelverYAMLConfig struct {
	Server     *ServerConfig       `yaml:"server"`
	Flows      *FlowsConfig        `yaml:"flows"`
	Scheduler  *SchedulerConfig    `yaml:"scheduler"`
	Research   *ResearchYAMLConfig `yaml:"research"`
	Search     *SearchConfig       `yaml:"search"`
	Reporter   *ReporterConfig     `yaml:"reporter"`
	Slack      *SlackYAMLConfig    `yaml:"slack"`
	Resilience *ResilienceConfig   `yaml:"resilience"`
}

// ResearchYAMLConfig holds research defaults from YAML. Toggles and
// zero-meaningful numerics are pointers so "explicitly false/zero" is
// distinguishable from "unset".
type ResearchYAMLConfig struct {
	ResearchMode             string   `yaml:"research_mode,omitempty"`
	SearchAPI                string   `yaml:"search_api,omitempty"`
	FallbackAPIs             []string `yaml:"fallback_apis,omitempty"`
	EnableFallbackAPIs       *bool    `yaml:"enable_fallback_apis,omitempty"`
	MaxRetries               int      `yaml:"max_retries,omitempty"`
	RetryDelay               *float64 `yaml:"retry_delay,omitempty"`
	MaxSearchDepth           *int     `yaml:"max_search_depth,omitempty"`
	NumberOfQueries          int      `yaml:"number_of_queries,omitempty"`
	ReportStructure          string   `yaml:"report_structure,omitempty"`
	PlannerModel             string   `yaml:"planner_model,omitempty"`
	WriterModel              string   `yaml:"writer_model,omitempty"`
	SupervisorModel          string   `yaml:"supervisor_model,omitempty"`
	ResearcherModel          string   `yaml:"researcher_model,omitempty"`
	MaxConcurrentResearchers int      `yaml:"max_concurrent_researchers,omitempty"`
	EnableParallelExecution  *bool    `yaml:"enable_parallel_execution,omitempty"`
	EnableSearchCache        *bool    `yaml:"enable_search_cache,omitempty"`
	CacheTTL                 *float64 `yaml:"cache_ttl,omitempty"`
}

// SlackYAMLConfig holds Slack notification settings from YAML.
type SlackYAMLConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// ModelsYAMLConfig represents the complete model-providers.yaml file
// structure
type ModelsYAMLConfig struct {
	DefaultProvider string                          `yaml:"default_provider"`
	Providers       map[string]*ModelProviderConfig `yaml:"providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir (both optional; built-in defaults
//     cover every section)
//  2. Expand environment variables in file content
//  3. Merge built-in defaults + user-defined values
//  4. Apply environment overrides (ENVIRONMENT, research field names)
//  5. Build the provider registry
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"backends", stats.Backends,
		"providers", stats.Providers,
		"alert_rules", stats.AlertRules,
		"environment", cfg.Server.Environment)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load delver.yaml (all sections optional)
	delverConfig, err := loader.loadDelverYAML()
	if err != nil {
		return nil, NewLoadError("delver.yaml", err)
	}

	// 2. Load model-providers.yaml
	modelsConfig, err := loader.loadModelsYAML()
	if err != nil {
		return nil, NewLoadError("model-providers.yaml", err)
	}

	// 3. Merge user YAML onto built-in defaults per section.
	// Start with defaults, then merge user config on top to preserve
	// unset defaults.
	serverCfg := DefaultServerConfig()
	if delverConfig.Server != nil {
		if err := mergo.Merge(serverCfg, delverConfig.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}

	flowsCfg := DefaultFlowsConfig()
	if delverConfig.Flows != nil {
		if err := mergo.Merge(flowsCfg, delverConfig.Flows, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge flows config: %w", err)
		}
	}

	schedulerCfg := DefaultSchedulerConfig()
	if delverConfig.Scheduler != nil {
		if err := mergo.Merge(schedulerCfg, delverConfig.Scheduler, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge scheduler config: %w", err)
		}
	}

	reporterCfg := DefaultReporterConfig()
	if delverConfig.Reporter != nil {
		if err := mergo.Merge(reporterCfg, delverConfig.Reporter, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge reporter config: %w", err)
		}
	}

	resilienceCfg := DefaultResilienceConfig()
	if delverConfig.Resilience != nil {
		if err := mergo.Merge(resilienceCfg, delverConfig.Resilience, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge resilience config: %w", err)
		}
	}

	// 4. Resolve sections that need explicit handling (toggles where
	// false must override a true default).
	researchCfg := resolveResearchConfig(delverConfig.Research)
	slackCfg := resolveSlackConfig(delverConfig.Slack)
	searchCfg, err := resolveSearchConfig(delverConfig.Search)
	if err != nil {
		return nil, err
	}

	// 5. Environment wins over file content.
	applyEnvironmentVariable(serverCfg)
	researchCfg.ApplyEnv()

	// 6. Merge built-in + user-defined model providers and build the
	// registry.
	defaults := DefaultModelsConfig()
	providers := defaults.Providers
	defaultProvider := defaults.DefaultProvider
	if modelsConfig != nil {
		providers = mergeProviders(defaults.Providers, modelsConfig.Providers)
		if modelsConfig.DefaultProvider != "" {
			defaultProvider = modelsConfig.DefaultProvider
		}
	}

	return &Config{
		configDir:       configDir,
		Server:          serverCfg,
		Flows:           flowsCfg,
		Scheduler:       schedulerCfg,
		Research:        researchCfg,
		Search:          searchCfg,
		Reporter:        reporterCfg,
		Slack:           slackCfg,
		Resilience:      resilienceCfg,
		ModelRegistry:   NewModelProviderRegistry(providers),
		DefaultProvider: defaultProvider,
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

// loadYAML reads and parses one file. A missing file is not an error;
// it returns false and the caller falls back to built-in defaults.
func (l *configLoader) loadYAML(filename string, target any) (bool, error) {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("Configuration file not found, using built-in defaults", "file", path)
			return false, nil
		}
		return false, err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return true, nil
}

func (l *configLoader) loadDelverYAML() (*DelverYAMLConfig, error) {
	var config DelverYAMLConfig
	if _, err := l.loadYAML("delver.yaml", &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func (l *configLoader) loadModelsYAML() (*ModelsYAMLConfig, error) {
	var config ModelsYAMLConfig
	found, err := l.loadYAML("model-providers.yaml", &config)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &config, nil
}

// resolveResearchConfig resolves research defaults from YAML, applying
// built-in defaults for unset fields.
func resolveResearchConfig(y *ResearchYAMLConfig) *ResearchConfig {
	cfg := DefaultResearchConfig()
	if y == nil {
		return cfg
	}

	if y.ResearchMode != "" {
		cfg.ResearchMode = ResearchMode(y.ResearchMode)
	}
	if y.SearchAPI != "" {
		cfg.SearchAPI = y.SearchAPI
	}
	if len(y.FallbackAPIs) > 0 {
		cfg.FallbackAPIs = y.FallbackAPIs
	}
	if y.EnableFallbackAPIs != nil {
		cfg.EnableFallbackAPIs = *y.EnableFallbackAPIs
	}
	if y.MaxRetries > 0 {
		cfg.MaxRetries = y.MaxRetries
	}
	if y.RetryDelay != nil {
		cfg.RetryDelay = *y.RetryDelay
	}
	if y.MaxSearchDepth != nil {
		cfg.MaxSearchDepth = *y.MaxSearchDepth
	}
	if y.NumberOfQueries > 0 {
		cfg.NumberOfQueries = y.NumberOfQueries
	}
	if y.ReportStructure != "" {
		cfg.ReportStructure = y.ReportStructure
	}
	if y.PlannerModel != "" {
		cfg.PlannerModel = y.PlannerModel
	}
	if y.WriterModel != "" {
		cfg.WriterModel = y.WriterModel
	}
	if y.SupervisorModel != "" {
		cfg.SupervisorModel = y.SupervisorModel
	}
	if y.ResearcherModel != "" {
		cfg.ResearcherModel = y.ResearcherModel
	}
	if y.MaxConcurrentResearchers > 0 {
		cfg.MaxConcurrentResearchers = y.MaxConcurrentResearchers
	}
	if y.EnableParallelExecution != nil {
		cfg.EnableParallelExecution = *y.EnableParallelExecution
	}
	if y.EnableSearchCache != nil {
		cfg.EnableSearchCache = *y.EnableSearchCache
	}
	if y.CacheTTL != nil {
		cfg.CacheTTL = *y.CacheTTL
	}

	return cfg
}

// resolveSlackConfig resolves Slack configuration from YAML, applying defaults.
func resolveSlackConfig(y *SlackYAMLConfig) *SlackConfig {
	cfg := DefaultSlackConfig()
	if y == nil {
		return cfg
	}

	if y.Enabled != nil {
		cfg.Enabled = *y.Enabled
	}
	if y.TokenEnv != "" {
		cfg.TokenEnv = y.TokenEnv
	}
	if y.Channel != "" {
		cfg.Channel = y.Channel
	}

	return cfg
}

// resolveSearchConfig overlays user backend settings onto the built-in
// backend table. Unknown backend tags are accepted; the registry skips
// tags it has no adapter for at startup.
func resolveSearchConfig(y *SearchConfig) (*SearchConfig, error) {
	cfg := DefaultSearchConfig()
	if y == nil {
		return cfg, nil
	}

	if y.CacheMaxEntries > 0 {
		cfg.CacheMaxEntries = y.CacheMaxEntries
	}
	for tag, user := range y.Backends {
		base, ok := cfg.Backends[tag]
		if !ok {
			cfg.Backends[tag] = user
			continue
		}
		if err := mergo.Merge(base, user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge backend %q config: %w", tag, err)
		}
	}

	return cfg, nil
}

// applyEnvironmentVariable resolves ENVIRONMENT, which wins over the
// file value.
func applyEnvironmentVariable(server *ServerConfig) {
	v, ok := os.LookupEnv("ENVIRONMENT")
	if !ok {
		return
	}
	env := Environment(v)
	if !env.IsValid() {
		slog.Warn("Ignoring invalid ENVIRONMENT value", "value", v)
		return
	}
	server.Environment = env
}

// mergeProviders merges built-in and user-defined model providers.
// User definitions override built-ins with the same name.
func mergeProviders(builtin, user map[string]*ModelProviderConfig) map[string]*ModelProviderConfig {
	merged := make(map[string]*ModelProviderConfig, len(builtin)+len(user))
	for name, p := range builtin {
		merged[name] = p
	}
	for name, p := range user {
		merged[name] = p
	}
	return merged
}
