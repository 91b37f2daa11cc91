package config

import (
	"fmt"
	"sync"
	"time"
)

// ModelProviderType identifies the wire protocol a provider speaks.
type ModelProviderType string

const (
	ProviderTypeOpenAI ModelProviderType = "openai"
	ProviderTypeScript ModelProviderType = "script"
)

// IsValid checks if the provider type is a known value.
func (t ModelProviderType) IsValid() bool {
	return t == ProviderTypeOpenAI || t == ProviderTypeScript
}

// ModelProviderConfig defines one language model provider.
type ModelProviderConfig struct {
	// Provider type (required)
	Type ModelProviderType `yaml:"type"`

	// Default model identifier used when a role does not pin one
	Model string `yaml:"model"`

	// Environment variable name for the API key
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Optional custom endpoint/base URL
	BaseURL string `yaml:"base_url,omitempty"`

	// Request timeout per model call
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Sampling temperature
	Temperature float64 `yaml:"temperature,omitempty"`

	// Completion token cap; zero means provider default
	MaxTokens int `yaml:"max_tokens,omitempty"`
}

// ModelsConfig contains provider selection and definitions.
type ModelsConfig struct {
	// DefaultProvider is used when a flow does not name one.
	DefaultProvider string `yaml:"default_provider"`

	// Providers maps provider name to its definition.
	Providers map[string]*ModelProviderConfig `yaml:"providers"`
}

// DefaultModelsConfig returns the built-in provider defaults.
func DefaultModelsConfig() *ModelsConfig {
	return &ModelsConfig{
		DefaultProvider: "openai",
		Providers: map[string]*ModelProviderConfig{
			"openai": {
				Type:      ProviderTypeOpenAI,
				Model:     "gpt-4o-mini",
				APIKeyEnv: "OPENAI_API_KEY",
				BaseURL:   "https://api.openai.com/v1",
				Timeout:   120 * time.Second,
			},
		},
	}
}

// ModelProviderRegistry stores provider configurations in memory with
// thread-safe access.
type ModelProviderRegistry struct {
	providers map[string]*ModelProviderConfig
	mu        sync.RWMutex
}

// NewModelProviderRegistry creates a new provider registry
func NewModelProviderRegistry(providers map[string]*ModelProviderConfig) *ModelProviderRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[string]*ModelProviderConfig, len(providers))
	for k, v := range providers {
		copied[k] = v
	}
	return &ModelProviderRegistry{
		providers: copied,
	}
}

// Get retrieves a provider configuration by name (thread-safe)
func (r *ModelProviderRegistry) Get(name string) (*ModelProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return provider, nil
}

// GetAll returns all provider configurations (thread-safe, returns copy)
func (r *ModelProviderRegistry) GetAll() map[string]*ModelProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ModelProviderConfig, len(r.providers))
	for k, v := range r.providers {
		result[k] = v
	}
	return result
}

// Has checks if a provider exists in the registry (thread-safe)
func (r *ModelProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.providers[name]
	return exists
}

// Len returns the number of providers in the registry (thread-safe)
func (r *ModelProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
