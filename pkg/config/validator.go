package config

import "fmt"

var validSeverities = map[string]bool{
	"debug":    true,
	"info":     true,
	"warning":  true,
	"error":    true,
	"critical": true,
}

var validAlertChannels = map[string]bool{
	"log":   true,
	"slack": true,
}

// Validator validates configuration comprehensively with clear error messages
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *Validator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}

	if err := v.validateFlows(); err != nil {
		return fmt.Errorf("flows validation failed: %w", err)
	}

	if err := v.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler validation failed: %w", err)
	}

	if err := v.validateResearch(); err != nil {
		return fmt.Errorf("research validation failed: %w", err)
	}

	if err := v.validateSearch(); err != nil {
		return fmt.Errorf("search validation failed: %w", err)
	}

	if err := v.validateReporter(); err != nil {
		return fmt.Errorf("reporter validation failed: %w", err)
	}

	if err := v.validateResilience(); err != nil {
		return fmt.Errorf("resilience validation failed: %w", err)
	}

	if err := v.validateModels(); err != nil {
		return fmt.Errorf("model provider validation failed: %w", err)
	}

	return nil
}

func (v *Validator) validateServer() error {
	s := v.cfg.Server
	if s.Port < 1 || s.Port > 65535 {
		return NewValidationError("server", "", "port", fmt.Errorf("must be between 1 and 65535, got %d", s.Port))
	}
	if !s.Environment.IsValid() {
		return NewValidationError("server", "", "environment", fmt.Errorf("invalid environment: %s", s.Environment))
	}
	return nil
}

func (v *Validator) validateFlows() error {
	f := v.cfg.Flows
	if f.MaxConcurrentFlows < 1 {
		return NewValidationError("flows", "", "max_concurrent_flows", fmt.Errorf("must be at least 1"))
	}
	if !f.DefaultPriority.IsValid() {
		return NewValidationError("flows", "", "default_priority", fmt.Errorf("invalid priority: %s", f.DefaultPriority))
	}
	if f.FlowTimeout <= 0 {
		return NewValidationError("flows", "", "flow_timeout", fmt.Errorf("must be positive"))
	}
	if f.CleanupMaxAge <= 0 {
		return NewValidationError("flows", "", "cleanup_max_age", fmt.Errorf("must be positive"))
	}
	if f.CleanupInterval <= 0 {
		return NewValidationError("flows", "", "cleanup_interval", fmt.Errorf("must be positive"))
	}
	if f.SnapshotsEnabled && f.SnapshotDir == "" {
		return NewValidationError("flows", "", "snapshot_dir", fmt.Errorf("required when snapshots are enabled"))
	}
	return nil
}

func (v *Validator) validateScheduler() error {
	s := v.cfg.Scheduler
	if s.MaxWorkers < 1 {
		return NewValidationError("scheduler", "", "max_workers", fmt.Errorf("must be at least 1"))
	}
	if s.QueueCapacity < 0 {
		return NewValidationError("scheduler", "", "queue_capacity", fmt.Errorf("must not be negative"))
	}
	if s.GracefulShutdownTimeout < 0 {
		return NewValidationError("scheduler", "", "graceful_shutdown_timeout", fmt.Errorf("must not be negative"))
	}
	return nil
}

func (v *Validator) validateResearch() error {
	r := v.cfg.Research
	if !r.ResearchMode.IsValid() {
		return NewValidationError("research", "", "research_mode", fmt.Errorf("invalid mode: %s", r.ResearchMode))
	}
	if r.SearchAPI == "" {
		return NewValidationError("research", "", "search_api", ErrMissingRequiredField)
	}
	if r.MaxRetries < 1 {
		return NewValidationError("research", "", "max_retries", fmt.Errorf("must be at least 1"))
	}
	if r.RetryDelay < 0 {
		return NewValidationError("research", "", "retry_delay", fmt.Errorf("must not be negative"))
	}
	if r.MaxSearchDepth < 0 {
		return NewValidationError("research", "", "max_search_depth", fmt.Errorf("must not be negative"))
	}
	if r.NumberOfQueries < 1 {
		return NewValidationError("research", "", "number_of_queries", fmt.Errorf("must be at least 1"))
	}
	if r.MaxConcurrentResearchers < 1 {
		return NewValidationError("research", "", "max_concurrent_researchers", fmt.Errorf("must be at least 1"))
	}
	if r.CacheTTL < 0 {
		return NewValidationError("research", "", "cache_ttl", fmt.Errorf("must not be negative"))
	}
	for _, tag := range r.FallbackAPIs {
		if tag == "" {
			return NewValidationError("research", "", "fallback_apis", fmt.Errorf("empty backend tag"))
		}
	}
	return nil
}

func (v *Validator) validateSearch() error {
	for tag, b := range v.cfg.Search.Backends {
		if b.RequestsPerMinute <= 0 {
			return NewValidationError("search", tag, "requests_per_minute", fmt.Errorf("must be positive"))
		}
		if b.Burst < 1 {
			return NewValidationError("search", tag, "burst", fmt.Errorf("must be at least 1"))
		}
		if b.Timeout <= 0 {
			return NewValidationError("search", tag, "timeout", fmt.Errorf("must be positive"))
		}
		if b.MaxResults < 1 {
			return NewValidationError("search", tag, "max_results", fmt.Errorf("must be at least 1"))
		}
	}
	return nil
}

func (v *Validator) validateReporter() error {
	r := v.cfg.Reporter
	if r.MaxErrors < 1 {
		return NewValidationError("reporter", "", "max_errors", fmt.Errorf("must be at least 1"))
	}
	if r.PersistDir == "" {
		return NewValidationError("reporter", "", "persist_dir", ErrMissingRequiredField)
	}
	if !validSeverities[r.PersistMinSeverity] {
		return NewValidationError("reporter", "", "persist_min_severity", fmt.Errorf("invalid severity: %s", r.PersistMinSeverity))
	}
	for _, rule := range r.Rules {
		if err := v.validateAlertRule(&rule); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateAlertRule(rule *AlertRuleConfig) error {
	if rule.Name == "" {
		return NewValidationError("reporter", "", "rules.name", ErrMissingRequiredField)
	}
	if rule.MinSeverity != "" && !validSeverities[rule.MinSeverity] {
		return NewValidationError("reporter", rule.Name, "min_severity", fmt.Errorf("invalid severity: %s", rule.MinSeverity))
	}
	if rule.CountThreshold < 1 {
		return NewValidationError("reporter", rule.Name, "count_threshold", fmt.Errorf("must be at least 1"))
	}
	if rule.Window <= 0 {
		return NewValidationError("reporter", rule.Name, "window", fmt.Errorf("must be positive"))
	}
	if len(rule.Channels) == 0 {
		return NewValidationError("reporter", rule.Name, "channels", fmt.Errorf("at least one channel required"))
	}
	for _, ch := range rule.Channels {
		if !validAlertChannels[ch] {
			return NewValidationError("reporter", rule.Name, "channels", fmt.Errorf("unknown channel: %s", ch))
		}
	}
	return nil
}

func (v *Validator) validateResilience() error {
	r := v.cfg.Resilience
	if r.Retry == nil || r.Breaker == nil {
		return NewValidationError("resilience", "", "", ErrMissingRequiredField)
	}
	if r.Retry.MaxAttempts < 1 {
		return NewValidationError("resilience", "retry", "max_attempts", fmt.Errorf("must be at least 1"))
	}
	if r.Retry.BaseDelay <= 0 {
		return NewValidationError("resilience", "retry", "base_delay", fmt.Errorf("must be positive"))
	}
	if r.Retry.Multiplier < 1 {
		return NewValidationError("resilience", "retry", "multiplier", fmt.Errorf("must be at least 1"))
	}
	if r.Retry.MaxDelay < r.Retry.BaseDelay {
		return NewValidationError("resilience", "retry", "max_delay", fmt.Errorf("must be at least base_delay"))
	}
	if r.Retry.Jitter != "none" && r.Retry.Jitter != "uniform" {
		return NewValidationError("resilience", "retry", "jitter", fmt.Errorf("must be none or uniform, got %s", r.Retry.Jitter))
	}
	if r.Breaker.FailureThreshold < 1 {
		return NewValidationError("resilience", "breaker", "failure_threshold", fmt.Errorf("must be at least 1"))
	}
	if r.Breaker.RecoveryTimeout <= 0 {
		return NewValidationError("resilience", "breaker", "recovery_timeout", fmt.Errorf("must be positive"))
	}
	if r.Breaker.HalfOpenMaxCalls < 1 {
		return NewValidationError("resilience", "breaker", "half_open_max_calls", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *Validator) validateModels() error {
	if v.cfg.DefaultProvider == "" {
		return NewValidationError("models", "", "default_provider", ErrMissingRequiredField)
	}
	if !v.cfg.ModelRegistry.Has(v.cfg.DefaultProvider) {
		return NewValidationError("models", v.cfg.DefaultProvider, "default_provider", ErrProviderNotFound)
	}
	for name, p := range v.cfg.ModelRegistry.GetAll() {
		if !p.Type.IsValid() {
			return NewValidationError("models", name, "type", fmt.Errorf("invalid provider type: %s", p.Type))
		}
		if p.Type == ProviderTypeOpenAI && p.Model == "" {
			return NewValidationError("models", name, "model", ErrMissingRequiredField)
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			return NewValidationError("models", name, "temperature", fmt.Errorf("must be between 0 and 2"))
		}
	}
	return nil
}
