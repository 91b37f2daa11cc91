package config

import "time"

// AlertRuleConfig defines one error alert rule. A rule fires when the
// count of matching errors inside the trailing window reaches the
// threshold; it then stays quiet for a full window.
type AlertRuleConfig struct {
	// Name identifies the rule in logs and API responses.
	Name string `yaml:"name"`

	// MinSeverity is the lowest severity that counts toward the rule
	// (debug, info, warning, error, critical).
	MinSeverity string `yaml:"min_severity"`

	// Kinds restricts the rule to the listed error kinds. Empty
	// matches every kind.
	Kinds []string `yaml:"kinds,omitempty"`

	// Categories restricts the rule to the listed categories. Empty
	// matches every category.
	Categories []string `yaml:"categories,omitempty"`

	// CountThreshold is the number of matching errors that trips the
	// rule.
	CountThreshold int `yaml:"count_threshold"`

	// Window is the trailing time window the count is measured over.
	Window time.Duration `yaml:"window"`

	// Channels lists dispatch targets (log, slack).
	Channels []string `yaml:"channels"`
}

// ReporterConfig contains error reporter settings.
type ReporterConfig struct {
	// MaxErrors bounds the in-memory error ring.
	MaxErrors int `yaml:"max_errors"`

	// PersistDir is where saved error reports are written.
	PersistDir string `yaml:"persist_dir"`

	// PersistMinSeverity is the lowest severity persisted when a
	// report asks to be saved without naming one.
	PersistMinSeverity string `yaml:"persist_min_severity"`

	// RulesFile optionally points at a YAML file of alert rules that
	// is watched and hot-reloaded on change.
	RulesFile string `yaml:"rules_file,omitempty"`

	// Rules are the statically configured alert rules.
	Rules []AlertRuleConfig `yaml:"rules,omitempty"`
}

// DefaultReporterConfig returns the built-in reporter defaults.
func DefaultReporterConfig() *ReporterConfig {
	return &ReporterConfig{
		MaxErrors:          1000,
		PersistDir:         "errors",
		PersistMinSeverity: "error",
	}
}

// SlackConfig contains Slack alert channel settings.
type SlackConfig struct {
	// Enabled turns the Slack channel on.
	Enabled bool `yaml:"enabled"`

	// TokenEnv names the environment variable holding the bot token.
	TokenEnv string `yaml:"token_env"`

	// Channel is the Slack channel ID or name alerts go to.
	Channel string `yaml:"channel"`
}

// DefaultSlackConfig returns the built-in Slack defaults.
func DefaultSlackConfig() *SlackConfig {
	return &SlackConfig{
		Enabled:  false,
		TokenEnv: "SLACK_BOT_TOKEN",
	}
}
