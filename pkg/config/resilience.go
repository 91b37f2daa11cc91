package config

import "time"

// RetryConfig contains default retry parameters for external calls.
type RetryConfig struct {
	// MaxAttempts is the total number of tries including the first.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the first backoff delay.
	BaseDelay time.Duration `yaml:"base_delay"`

	// Multiplier grows the delay per attempt.
	Multiplier float64 `yaml:"multiplier"`

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Jitter selects the jitter mode: none or uniform.
	Jitter string `yaml:"jitter"`
}

// BreakerConfig contains default circuit breaker parameters.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the
	// breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryTimeout is how long an open breaker waits before
	// admitting half-open probes.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`

	// HalfOpenMaxCalls caps concurrent half-open probes.
	HalfOpenMaxCalls int `yaml:"half_open_max_calls"`
}

// ResilienceConfig groups the process-wide resilience defaults.
type ResilienceConfig struct {
	Retry   *RetryConfig   `yaml:"retry"`
	Breaker *BreakerConfig `yaml:"breaker"`
}

// DefaultResilienceConfig returns the built-in resilience defaults.
func DefaultResilienceConfig() *ResilienceConfig {
	return &ResilienceConfig{
		Retry: &RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			Multiplier:  2.0,
			MaxDelay:    30 * time.Second,
			Jitter:      "uniform",
		},
		Breaker: &BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			HalfOpenMaxCalls: 1,
		},
	}
}
