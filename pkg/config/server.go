package config

// ServerConfig contains the HTTP API settings.
type ServerConfig struct {
	// Host is the listen address.
	Host string `yaml:"host"`

	// Port is the listen port.
	Port int `yaml:"port"`

	// Environment gates development-only diagnostics such as traceback
	// fields in error envelopes. Overridden by the ENVIRONMENT variable.
	Environment Environment `yaml:"environment"`

	// AllowedWSOrigins are additional origin patterns accepted for
	// WebSocket upgrades besides the server's own host.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`

	// APIKeysEnv names the environment variable holding the static API
	// keys, formatted as comma-separated key=role pairs.
	APIKeysEnv string `yaml:"api_keys_env"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:        "0.0.0.0",
		Port:        8000,
		Environment: EnvDevelopment,
		APIKeysEnv:  "DELVER_API_KEYS",
	}
}
