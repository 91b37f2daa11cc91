package config

import "time"

// FlowsConfig contains flow admission and retention settings.
type FlowsConfig struct {
	// MaxConcurrentFlows is the admission limit counted over flows in
	// PENDING or RUNNING status.
	MaxConcurrentFlows int `yaml:"max_concurrent_flows"`

	// DefaultPriority is the scheduler priority assigned to flow tasks.
	DefaultPriority TaskPriority `yaml:"default_priority"`

	// FlowTimeout is the maximum wall-clock time one flow may run.
	FlowTimeout time.Duration `yaml:"flow_timeout"`

	// CleanupMaxAge is how long terminal flows are kept before the
	// cleanup pass removes them.
	CleanupMaxAge time.Duration `yaml:"cleanup_max_age"`

	// CleanupInterval is how often the background cleanup pass runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// SnapshotsEnabled writes the final ReportState of every terminal
	// flow to SnapshotDir as JSON.
	SnapshotsEnabled bool `yaml:"snapshots_enabled"`

	// SnapshotDir is where flow snapshots land.
	SnapshotDir string `yaml:"snapshot_dir"`
}

// DefaultFlowsConfig returns the built-in flow defaults.
func DefaultFlowsConfig() *FlowsConfig {
	return &FlowsConfig{
		MaxConcurrentFlows: 10,
		DefaultPriority:    PriorityNormal,
		FlowTimeout:        15 * time.Minute,
		CleanupMaxAge:      1 * time.Hour,
		CleanupInterval:    10 * time.Minute,
		SnapshotDir:        "snapshots",
	}
}
