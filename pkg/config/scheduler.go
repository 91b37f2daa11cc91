package config

import "time"

// SchedulerConfig contains task scheduler and worker pool configuration.
type SchedulerConfig struct {
	// MaxWorkers is the number of worker goroutines executing tasks.
	MaxWorkers int `yaml:"max_workers"`

	// QueueCapacity bounds the number of queued plus waiting tasks.
	// Zero means unbounded.
	QueueCapacity int `yaml:"queue_capacity"`

	// DefaultTaskTimeout applies to tasks submitted without an explicit
	// timeout. Zero disables the default.
	DefaultTaskTimeout time.Duration `yaml:"default_task_timeout"`

	// GracefulShutdownTimeout is the max time to wait for running tasks
	// to finish during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		MaxWorkers:              5,
		QueueCapacity:           0,
		DefaultTaskTimeout:      10 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}
