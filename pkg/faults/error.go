package faults

import (
	"fmt"
	"time"
)

// Error is the taxonomy error. It carries a kind, a severity, a category,
// free-form details, and an optional cause reachable through Unwrap.
type Error struct {
	kind     Kind
	message  string
	severity Severity
	category Category
	details  map[string]any
	cause    error
	stamp    time.Time
}

// New creates an Error of the given kind with the default severity and
// category for that kind.
func New(kind Kind, message string) *Error {
	return &Error{
		kind:     kind,
		message:  message,
		severity: DefaultSeverity(kind),
		category: DefaultCategory(kind),
		stamp:    time.Now().UTC(),
	}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates an Error whose cause is err. The cause is reachable through
// errors.Unwrap and participates in errors.Is/As chains.
func Wrap(kind Kind, message string, err error) *Error {
	e := New(kind, message)
	e.cause = err
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Unwrap exposes the cause for errors.Is/As traversal.
func (e *Error) Unwrap() error { return e.cause }

// Kind returns the taxonomy kind.
func (e *Error) Kind() Kind { return e.kind }

// Message returns the message without the kind prefix.
func (e *Error) Message() string { return e.message }

// Severity returns the assigned severity.
func (e *Error) Severity() Severity { return e.severity }

// Category returns the assigned category.
func (e *Error) Category() Category { return e.category }

// Time returns when the error was created.
func (e *Error) Time() time.Time { return e.stamp }

// Details returns the detail map. Never nil; lazily allocated.
func (e *Error) Details() map[string]any {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	return e.details
}

// Detail returns a single detail value.
func (e *Error) Detail(key string) (any, bool) {
	v, ok := e.details[key]
	return v, ok
}

// With attaches a detail and returns the error for chaining.
func (e *Error) With(key string, value any) *Error {
	e.Details()[key] = value
	return e
}

// WithSeverity overrides the default severity.
func (e *Error) WithSeverity(s Severity) *Error {
	e.severity = s
	return e
}

// WithCategory overrides the default category.
func (e *Error) WithCategory(c Category) *Error {
	e.category = c
	return e
}

// Convenience constructors for the kinds created throughout the codebase.

// Validation builds a ValidationError.
func Validation(message string) *Error { return New(KindValidation, message) }

// NotFound builds a NotFoundError for a named resource.
func NotFound(resource, id string) *Error {
	return Newf(KindNotFound, "%s %q not found", resource, id).With("resource", resource).With("id", id)
}

// Authentication builds an AuthenticationError.
func Authentication(message string) *Error { return New(KindAuthentication, message) }

// Authorization builds an AuthorizationError.
func Authorization(message string) *Error { return New(KindAuthorization, message) }

// Connection builds a ConnectionError wrapping the underlying failure.
func Connection(op string, err error) *Error {
	return Wrap(KindConnection, op+" failed", err).With("operation", op)
}

// Timeout builds a TimeoutError for an operation.
func Timeout(op string) *Error {
	return Newf(KindTimeout, "%s timed out", op).With("operation", op)
}

// RateLimited builds a RateLimitError. retryAfter may be zero when the
// provider gave no hint.
func RateLimited(op string, retryAfter time.Duration) *Error {
	e := Newf(KindRateLimit, "%s rate limited", op).With("operation", op)
	if retryAfter > 0 {
		e.With(detailRetryAfter, retryAfter.Seconds())
	}
	return e
}

// Unavailable builds a ServiceUnavailableError.
func Unavailable(op string) *Error {
	return Newf(KindServiceUnavailable, "%s unavailable", op).With("operation", op)
}

// Configuration builds a ConfigurationError.
func Configuration(message string) *Error { return New(KindConfiguration, message) }

// ResourceExhausted builds a ResourceError for an exceeded limit.
func ResourceExhausted(message string) *Error { return New(KindResource, message) }

// TaskFailed builds a TaskError wrapping the underlying failure.
func TaskFailed(taskID string, err error) *Error {
	return Wrap(KindTask, "task "+taskID+" failed", err).With("task_id", taskID)
}

// Dependency builds a DependencyError.
func Dependency(message string) *Error { return New(KindDependency, message) }

// InvalidState builds a StateError for an illegal transition or lookup.
func InvalidState(message string) *Error { return New(KindState, message) }

// Transformation builds a TransformationError, used for response decode
// failures from external services.
func Transformation(op string, err error) *Error {
	return Wrap(KindTransformation, "decode "+op+" response", err).With("operation", op)
}

// CircuitOpenError builds the error returned while a breaker rejects calls.
// remaining is the time until the breaker next admits a probe.
func CircuitOpenError(name string, remaining time.Duration) *Error {
	return Newf(KindCircuitOpen, "circuit %q is open", name).
		With("breaker", name).
		With(detailRecoveryRemaining, remaining.Seconds())
}
