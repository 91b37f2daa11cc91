package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultReportStructure is the built-in four-part report template given
// to the planner model.
const DefaultReportStructure = `Use this structure to create a report on the user-provided topic:

1. Introduction (no research needed)
   - Brief overview of the topic area

2. Main Body Sections:
   - Each section should focus on a sub-topic of the user-provided topic
   - Include any key concepts and definitions
   - Provide real-world examples or case studies where applicable

3. Conclusion
   - Aim for one structural element (either a list or table) that distills the main body sections
   - Provide a concise summary of the report`

// ResearchConfig drives one research flow: topology selection, search
// behavior, model assignment, and fan-out limits. A flow receives its
// own copy at admission; mutating it afterwards has no effect on the
// running flow.
type ResearchConfig struct {
	// ResearchMode selects the pipeline topology.
	ResearchMode ResearchMode `yaml:"research_mode" json:"research_mode"`

	// SearchAPI is the primary search backend tag.
	SearchAPI string `yaml:"search_api" json:"search_api"`

	// FallbackAPIs are tried in order when the primary is exhausted.
	FallbackAPIs []string `yaml:"fallback_apis" json:"fallback_apis"`

	// EnableFallbackAPIs gates the fallback chain.
	EnableFallbackAPIs bool `yaml:"enable_fallback_apis" json:"enable_fallback_apis"`

	// MaxRetries is the default retry attempt count for external calls.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// RetryDelay is the base backoff delay in seconds.
	RetryDelay float64 `yaml:"retry_delay" json:"retry_delay"`

	// MaxSearchDepth caps reflect iterations in the iterative topology.
	MaxSearchDepth int `yaml:"max_search_depth" json:"max_search_depth"`

	// NumberOfQueries is how many queries each planning pass generates.
	NumberOfQueries int `yaml:"number_of_queries" json:"number_of_queries"`

	// ReportStructure is the textual template the planner follows.
	ReportStructure string `yaml:"report_structure" json:"report_structure"`

	// Model identifiers per role. Empty means the provider default.
	PlannerModel    string `yaml:"planner_model" json:"planner_model"`
	WriterModel     string `yaml:"writer_model" json:"writer_model"`
	SupervisorModel string `yaml:"supervisor_model" json:"supervisor_model"`
	ResearcherModel string `yaml:"researcher_model" json:"researcher_model"`

	// MaxConcurrentResearchers caps multi-agent fan-out.
	MaxConcurrentResearchers int `yaml:"max_concurrent_researchers" json:"max_concurrent_researchers"`

	// EnableParallelExecution runs fan-out branches in parallel when
	// true, sequentially otherwise.
	EnableParallelExecution bool `yaml:"enable_parallel_execution" json:"enable_parallel_execution"`

	// EnableSearchCache gates the search result cache.
	EnableSearchCache bool `yaml:"enable_search_cache" json:"enable_search_cache"`

	// CacheTTL is the search cache freshness window in seconds.
	CacheTTL float64 `yaml:"cache_ttl" json:"cache_ttl"`
}

// DefaultResearchConfig returns the built-in research defaults.
func DefaultResearchConfig() *ResearchConfig {
	return &ResearchConfig{
		ResearchMode:             ModeLinear,
		SearchAPI:                "tavily",
		FallbackAPIs:             []string{"tavily", "perplexity", "exa", "duckduckgo"},
		EnableFallbackAPIs:       true,
		MaxRetries:               3,
		RetryDelay:               1.0,
		MaxSearchDepth:           2,
		NumberOfQueries:          2,
		ReportStructure:          DefaultReportStructure,
		MaxConcurrentResearchers: 3,
		EnableParallelExecution:  true,
		EnableSearchCache:        true,
		CacheTTL:                 3600,
	}
}

// Clone returns an independent copy.
func (c *ResearchConfig) Clone() *ResearchConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.FallbackAPIs = append([]string(nil), c.FallbackAPIs...)
	return &out
}

// RetryDelayDuration converts the base delay to a duration.
func (c *ResearchConfig) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay * float64(time.Second))
}

// CacheTTLDuration converts the cache TTL to a duration.
func (c *ResearchConfig) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL * float64(time.Second))
}

// ApplyMapping overlays caller-supplied overrides keyed by field name
// (snake_case, matching the YAML tags). Unknown keys are rejected so
// typos surface as validation failures instead of silently ignored
// settings.
func (c *ResearchConfig) ApplyMapping(overrides map[string]any) error {
	for key, raw := range overrides {
		if err := c.applyOverride(key, raw); err != nil {
			return err
		}
	}
	return nil
}

func (c *ResearchConfig) applyOverride(key string, raw any) error {
	switch key {
	case "research_mode":
		s, err := asString(key, raw)
		if err != nil {
			return err
		}
		c.ResearchMode = ResearchMode(s)
	case "search_api":
		s, err := asString(key, raw)
		if err != nil {
			return err
		}
		c.SearchAPI = s
	case "fallback_apis":
		list, err := asStringList(key, raw)
		if err != nil {
			return err
		}
		c.FallbackAPIs = list
	case "enable_fallback_apis":
		b, err := asBool(key, raw)
		if err != nil {
			return err
		}
		c.EnableFallbackAPIs = b
	case "max_retries":
		n, err := asInt(key, raw)
		if err != nil {
			return err
		}
		c.MaxRetries = n
	case "retry_delay":
		f, err := asFloat(key, raw)
		if err != nil {
			return err
		}
		c.RetryDelay = f
	case "max_search_depth":
		n, err := asInt(key, raw)
		if err != nil {
			return err
		}
		c.MaxSearchDepth = n
	case "number_of_queries":
		n, err := asInt(key, raw)
		if err != nil {
			return err
		}
		c.NumberOfQueries = n
	case "report_structure":
		s, err := asString(key, raw)
		if err != nil {
			return err
		}
		c.ReportStructure = s
	case "planner_model":
		s, err := asString(key, raw)
		if err != nil {
			return err
		}
		c.PlannerModel = s
	case "writer_model":
		s, err := asString(key, raw)
		if err != nil {
			return err
		}
		c.WriterModel = s
	case "supervisor_model":
		s, err := asString(key, raw)
		if err != nil {
			return err
		}
		c.SupervisorModel = s
	case "researcher_model":
		s, err := asString(key, raw)
		if err != nil {
			return err
		}
		c.ResearcherModel = s
	case "max_concurrent_researchers":
		n, err := asInt(key, raw)
		if err != nil {
			return err
		}
		c.MaxConcurrentResearchers = n
	case "enable_parallel_execution":
		b, err := asBool(key, raw)
		if err != nil {
			return err
		}
		c.EnableParallelExecution = b
	case "enable_search_cache":
		b, err := asBool(key, raw)
		if err != nil {
			return err
		}
		c.EnableSearchCache = b
	case "cache_ttl":
		f, err := asFloat(key, raw)
		if err != nil {
			return err
		}
		c.CacheTTL = f
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOverride, key)
	}
	return nil
}

// ApplyEnv overlays environment variables named after the uppercased
// field names (RESEARCH_MODE, SEARCH_API, ...). Unparseable values are
// logged and skipped so a bad variable never blocks startup.
func (c *ResearchConfig) ApplyEnv() {
	log := slog.Default().With("component", "config")

	if v, ok := os.LookupEnv("RESEARCH_MODE"); ok {
		c.ResearchMode = ResearchMode(v)
	}
	if v, ok := os.LookupEnv("SEARCH_API"); ok {
		c.SearchAPI = v
	}
	if v, ok := os.LookupEnv("FALLBACK_APIS"); ok {
		c.FallbackAPIs = splitList(v)
	}
	envBool(log, "ENABLE_FALLBACK_APIS", &c.EnableFallbackAPIs)
	envInt(log, "MAX_RETRIES", &c.MaxRetries)
	envFloat(log, "RETRY_DELAY", &c.RetryDelay)
	envInt(log, "MAX_SEARCH_DEPTH", &c.MaxSearchDepth)
	envInt(log, "NUMBER_OF_QUERIES", &c.NumberOfQueries)
	if v, ok := os.LookupEnv("REPORT_STRUCTURE"); ok {
		c.ReportStructure = v
	}
	if v, ok := os.LookupEnv("PLANNER_MODEL"); ok {
		c.PlannerModel = v
	}
	if v, ok := os.LookupEnv("WRITER_MODEL"); ok {
		c.WriterModel = v
	}
	if v, ok := os.LookupEnv("SUPERVISOR_MODEL"); ok {
		c.SupervisorModel = v
	}
	if v, ok := os.LookupEnv("RESEARCHER_MODEL"); ok {
		c.ResearcherModel = v
	}
	envInt(log, "MAX_CONCURRENT_RESEARCHERS", &c.MaxConcurrentResearchers)
	envBool(log, "ENABLE_PARALLEL_EXECUTION", &c.EnableParallelExecution)
	envBool(log, "ENABLE_SEARCH_CACHE", &c.EnableSearchCache)
	envFloat(log, "CACHE_TTL", &c.CacheTTL)
}

// ResolveResearchConfig builds the effective config for one flow: start
// from base (or built-in defaults), overlay the caller mapping, then the
// environment. Environment wins over the mapping unless envWins is
// false, in which case the mapping is applied last.
func ResolveResearchConfig(base *ResearchConfig, overrides map[string]any, envWins bool) (*ResearchConfig, error) {
	cfg := base.Clone()
	if cfg == nil {
		cfg = DefaultResearchConfig()
	}

	if envWins {
		if err := cfg.ApplyMapping(overrides); err != nil {
			return nil, err
		}
		cfg.ApplyEnv()
	} else {
		cfg.ApplyEnv()
		if err := cfg.ApplyMapping(overrides); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envBool(log *slog.Logger, name string, target *bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn("Ignoring unparseable environment override", "var", name, "value", v, "error", err)
		return
	}
	*target = parsed
}

func envInt(log *slog.Logger, name string, target *int) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("Ignoring unparseable environment override", "var", name, "value", v, "error", err)
		return
	}
	*target = parsed
}

func envFloat(log *slog.Logger, name string, target *float64) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn("Ignoring unparseable environment override", "var", name, "value", v, "error", err)
		return
	}
	*target = parsed
}

func asString(key string, raw any) (string, error) {
	if s, ok := raw.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: %s expects a string, got %T", ErrInvalidValue, key, raw)
}

func asStringList(key string, raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s expects strings, got %T", ErrInvalidValue, key, item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return splitList(v), nil
	}
	return nil, fmt.Errorf("%w: %s expects a list, got %T", ErrInvalidValue, key, raw)
}

func asBool(key string, raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
		}
		return parsed, nil
	}
	return false, fmt.Errorf("%w: %s expects a bool, got %T", ErrInvalidValue, key, raw)
}

func asInt(key string, raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
		}
		return parsed, nil
	}
	return 0, fmt.Errorf("%w: %s expects an integer, got %T", ErrInvalidValue, key, raw)
}

func asFloat(key string, raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
		}
		return parsed, nil
	}
	return 0, fmt.Errorf("%w: %s expects a number, got %T", ErrInvalidValue, key, raw)
}
