// Package faults defines the error taxonomy shared by every component:
// typed error kinds, severities, and categories, plus classification
// helpers for normalizing transport and runtime failures.
package faults

// Kind identifies the error type within the taxonomy.
type Kind string

const (
	KindValidation         Kind = "ValidationError"
	KindNotFound           Kind = "NotFoundError"
	KindAuthentication     Kind = "AuthenticationError"
	KindAuthorization      Kind = "AuthorizationError"
	KindConnection         Kind = "ConnectionError"
	KindTimeout            Kind = "TimeoutError"
	KindRateLimit          Kind = "RateLimitError"
	KindServiceUnavailable Kind = "ServiceUnavailableError"
	KindAPI                Kind = "APIError"
	KindConfiguration      Kind = "ConfigurationError"
	KindResource           Kind = "ResourceError"
	KindTask               Kind = "TaskError"
	KindPlugin             Kind = "PluginError"
	KindDataProcessing     Kind = "DataProcessingError"
	KindTransformation     Kind = "TransformationError"
	KindExtraction         Kind = "ExtractionError"
	KindAnalysis           Kind = "AnalysisError"
	KindCircuitOpen        Kind = "CircuitOpen"
	KindConcurrency        Kind = "ConcurrencyError"
	KindDependency         Kind = "DependencyError"
	KindState              Kind = "StateError"
	KindTransient          Kind = "TransientError"
	KindPermanent          Kind = "PermanentError"
)

// IsValid checks if the kind belongs to the taxonomy.
func (k Kind) IsValid() bool {
	_, ok := defaultSeverities[k]
	return ok
}

// Severity expresses how serious a reported error is.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityDebug:    0,
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityError:    3,
	SeverityCritical: 4,
}

// IsValid checks if the severity is a known level.
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s is as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// Category groups errors by the subsystem they originate from.
type Category string

const (
	CategorySystem          Category = "system"
	CategoryApplication     Category = "application"
	CategoryNetwork         Category = "network"
	CategoryDatabase        Category = "database"
	CategoryAuthentication  Category = "authentication"
	CategoryAuthorization   Category = "authorization"
	CategoryValidation      Category = "validation"
	CategoryResource        Category = "resource"
	CategoryTask            Category = "task"
	CategoryPlugin          Category = "plugin"
	CategoryExternalService Category = "external_service"
	CategoryUnknown         Category = "unknown"
)

// IsValid checks if the category is known.
func (c Category) IsValid() bool {
	switch c {
	case CategorySystem, CategoryApplication, CategoryNetwork, CategoryDatabase,
		CategoryAuthentication, CategoryAuthorization, CategoryValidation,
		CategoryResource, CategoryTask, CategoryPlugin, CategoryExternalService,
		CategoryUnknown:
		return true
	default:
		return false
	}
}

// transientKinds are retried with backoff by default.
var transientKinds = map[Kind]bool{
	KindTransient:          true,
	KindTimeout:            true,
	KindRateLimit:          true,
	KindServiceUnavailable: true,
	KindConnection:         true,
}

var defaultSeverities = map[Kind]Severity{
	KindValidation:         SeverityError,
	KindNotFound:           SeverityError,
	KindAuthentication:     SeverityError,
	KindAuthorization:      SeverityError,
	KindConnection:         SeverityWarning,
	KindTimeout:            SeverityWarning,
	KindRateLimit:          SeverityWarning,
	KindServiceUnavailable: SeverityWarning,
	KindAPI:                SeverityError,
	KindConfiguration:      SeverityCritical,
	KindResource:           SeverityError,
	KindTask:               SeverityError,
	KindPlugin:             SeverityError,
	KindDataProcessing:     SeverityError,
	KindTransformation:     SeverityError,
	KindExtraction:         SeverityError,
	KindAnalysis:           SeverityError,
	KindCircuitOpen:        SeverityWarning,
	KindConcurrency:        SeverityError,
	KindDependency:         SeverityError,
	KindState:              SeverityError,
	KindTransient:          SeverityWarning,
	KindPermanent:          SeverityCritical,
}

var defaultCategories = map[Kind]Category{
	KindValidation:         CategoryValidation,
	KindNotFound:           CategoryApplication,
	KindAuthentication:     CategoryAuthentication,
	KindAuthorization:      CategoryAuthorization,
	KindConnection:         CategoryNetwork,
	KindTimeout:            CategoryExternalService,
	KindRateLimit:          CategoryExternalService,
	KindServiceUnavailable: CategoryExternalService,
	KindAPI:                CategoryExternalService,
	KindConfiguration:      CategorySystem,
	KindResource:           CategoryResource,
	KindTask:               CategoryTask,
	KindPlugin:             CategoryPlugin,
	KindDataProcessing:     CategoryApplication,
	KindTransformation:     CategoryApplication,
	KindExtraction:         CategoryApplication,
	KindAnalysis:           CategoryApplication,
	KindCircuitOpen:        CategoryExternalService,
	KindConcurrency:        CategoryTask,
	KindDependency:         CategoryTask,
	KindState:              CategoryTask,
	KindTransient:          CategoryUnknown,
	KindPermanent:          CategoryUnknown,
}

// DefaultSeverity returns the severity assigned to a kind when the
// reporter is not told otherwise.
func DefaultSeverity(k Kind) Severity {
	if s, ok := defaultSeverities[k]; ok {
		return s
	}
	return SeverityError
}

// DefaultCategory returns the category assigned to a kind when the
// reporter is not told otherwise.
func DefaultCategory(k Kind) Category {
	if c, ok := defaultCategories[k]; ok {
		return c
	}
	return CategoryUnknown
}
