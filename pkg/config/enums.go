package config

// ResearchMode selects the pipeline topology a flow runs.
type ResearchMode string

const (
	// ModeLinear runs plan -> search -> write in a straight line.
	ModeLinear ResearchMode = "linear"
	// ModeIterative adds a reflect loop bounded by max_search_depth.
	ModeIterative ResearchMode = "iterative"
	// ModeMultiAgent fans section research out to parallel researchers
	// under a supervisor.
	ModeMultiAgent ResearchMode = "multi_agent"
)

// IsValid checks if the research mode is a known value.
func (m ResearchMode) IsValid() bool {
	switch m {
	case ModeLinear, ModeIterative, ModeMultiAgent:
		return true
	}
	return false
}

// IsLinear reports whether the mode walks sections one at a time.
func (m ResearchMode) IsLinear() bool {
	return m == ModeLinear
}

// Environment gates development-only behavior such as traceback
// inclusion in error envelopes.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// IsValid checks if the environment is a known value.
func (e Environment) IsValid() bool {
	return e == EnvDevelopment || e == EnvProduction
}

// IsDevelopment reports whether development-only diagnostics are on.
func (e Environment) IsDevelopment() bool {
	return e == EnvDevelopment
}

// TaskPriority orders tasks in the scheduler queue.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityNormal   TaskPriority = "normal"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// IsValid checks if the priority is a known value.
func (p TaskPriority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Weight returns the numeric rank used for queue ordering. Higher runs
// first.
func (p TaskPriority) Weight() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}
