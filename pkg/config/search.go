package config

import "time"

// BackendConfig contains the settings for one search backend.
type BackendConfig struct {
	// APIKeyEnv names the environment variable holding the API key.
	// Empty for keyless backends (arxiv, duckduckgo).
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// ExtraEnv names additional credential variables some backends
	// need, e.g. the Google custom search engine ID.
	ExtraEnv map[string]string `yaml:"extra_env,omitempty"`

	// RequestsPerMinute is the token bucket refill rate.
	RequestsPerMinute float64 `yaml:"requests_per_minute"`

	// Burst is the token bucket capacity.
	Burst int `yaml:"burst"`

	// Timeout bounds one HTTP call to the backend.
	Timeout time.Duration `yaml:"timeout"`

	// MaxResults is the default per-query result cap.
	MaxResults int `yaml:"max_results"`

	// BaseURL overrides the backend endpoint, mainly for tests.
	BaseURL string `yaml:"base_url,omitempty"`
}

// SearchConfig contains registry-wide and per-backend search settings.
type SearchConfig struct {
	// Backends maps backend tag to its settings. Built-in defaults
	// cover every known backend; YAML entries override per field.
	Backends map[string]*BackendConfig `yaml:"backends"`

	// CacheMaxEntries bounds the search result cache. Zero disables
	// the bound.
	CacheMaxEntries int `yaml:"cache_max_entries"`
}

// Backend tags known to the registry.
const (
	BackendTavily     = "tavily"
	BackendPerplexity = "perplexity"
	BackendExa        = "exa"
	BackendArxiv      = "arxiv"
	BackendPubMed     = "pubmed"
	BackendLinkUp     = "linkup"
	BackendDuckDuckGo = "duckduckgo"
	BackendGoogle     = "google"
)

// KnownBackends lists every built-in backend tag.
func KnownBackends() []string {
	return []string{
		BackendTavily, BackendPerplexity, BackendExa, BackendArxiv,
		BackendPubMed, BackendLinkUp, BackendDuckDuckGo, BackendGoogle,
	}
}

// DefaultSearchConfig returns the built-in search defaults. Rate limits
// reflect each provider's published guidance; arxiv in particular asks
// for no more than one request every three seconds.
func DefaultSearchConfig() *SearchConfig {
	return &SearchConfig{
		CacheMaxEntries: 2048,
		Backends: map[string]*BackendConfig{
			BackendTavily: {
				APIKeyEnv:         "TAVILY_API_KEY",
				RequestsPerMinute: 60,
				Burst:             10,
				Timeout:           30 * time.Second,
				MaxResults:        5,
			},
			BackendPerplexity: {
				APIKeyEnv:         "PERPLEXITY_API_KEY",
				RequestsPerMinute: 50,
				Burst:             5,
				Timeout:           60 * time.Second,
				MaxResults:        5,
			},
			BackendExa: {
				APIKeyEnv:         "EXA_API_KEY",
				RequestsPerMinute: 25,
				Burst:             5,
				Timeout:           30 * time.Second,
				MaxResults:        5,
			},
			BackendArxiv: {
				RequestsPerMinute: 20,
				Burst:             1,
				Timeout:           30 * time.Second,
				MaxResults:        5,
			},
			BackendPubMed: {
				APIKeyEnv:         "NCBI_API_KEY",
				RequestsPerMinute: 180,
				Burst:             3,
				Timeout:           30 * time.Second,
				MaxResults:        5,
			},
			BackendLinkUp: {
				APIKeyEnv:         "LINKUP_API_KEY",
				RequestsPerMinute: 60,
				Burst:             10,
				Timeout:           30 * time.Second,
				MaxResults:        5,
			},
			BackendDuckDuckGo: {
				RequestsPerMinute: 30,
				Burst:             3,
				Timeout:           20 * time.Second,
				MaxResults:        5,
			},
			BackendGoogle: {
				APIKeyEnv: "GOOGLE_API_KEY",
				ExtraEnv: map[string]string{
					"cx": "GOOGLE_CX",
				},
				RequestsPerMinute: 60,
				Burst:             10,
				Timeout:           30 * time.Second,
				MaxResults:        5,
			},
		},
	}
}
