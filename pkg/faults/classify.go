package faults

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"
)

const (
	detailRetryAfter        = "retry_after"
	detailRecoveryRemaining = "recovery_remaining"
	detailHTTPStatus        = "http_status"
)

// AsError extracts the taxonomy error from err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the taxonomy kind of err, classifying common runtime
// failures (context deadlines, net timeouts) that were not wrapped
// explicitly. Returns "" for errors outside the taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := AsError(err); ok {
		return e.kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnection
	}
	return ""
}

// IsTransient reports whether err should be retried with backoff by
// default. TransientError is the marker kind; rate-limit, timeout,
// service-unavailable, and connection errors inherit the policy.
func IsTransient(err error) bool {
	return transientKinds[KindOf(err)]
}

// IsKind reports whether err's taxonomy kind matches k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// SeverityOf returns err's severity. Errors outside the taxonomy default to
// SeverityError, matching how an unclassified failure is reported.
func SeverityOf(err error) Severity {
	if e, ok := AsError(err); ok {
		return e.severity
	}
	if k := KindOf(err); k != "" {
		return DefaultSeverity(k)
	}
	return SeverityError
}

// CategoryOf returns err's category, CategoryUnknown for errors outside the
// taxonomy.
func CategoryOf(err error) Category {
	if e, ok := AsError(err); ok {
		return e.category
	}
	if k := KindOf(err); k != "" {
		return DefaultCategory(k)
	}
	return CategoryUnknown
}

// RetryAfter returns the provider-supplied backoff hint carried by a
// rate-limit error, or zero when absent.
func RetryAfter(err error) time.Duration {
	e, ok := AsError(err)
	if !ok {
		return 0
	}
	v, ok := e.Detail(detailRetryAfter)
	if !ok {
		return 0
	}
	switch s := v.(type) {
	case float64:
		return time.Duration(s * float64(time.Second))
	case int:
		return time.Duration(s) * time.Second
	case time.Duration:
		return s
	}
	return 0
}

// RecoveryRemaining returns the time until an open breaker next admits a
// probe, carried by a CircuitOpen error.
func RecoveryRemaining(err error) time.Duration {
	e, ok := AsError(err)
	if !ok || e.kind != KindCircuitOpen {
		return 0
	}
	if v, ok := e.Detail(detailRecoveryRemaining); ok {
		if secs, ok := v.(float64); ok {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 0
}

// FromHTTPStatus normalizes an HTTP response status into the taxonomy:
// 429 becomes a rate-limit error carrying any Retry-After hint, 5xx a
// service-unavailable error, auth statuses map to their kinds, and the
// remaining 4xx become APIError.
func FromHTTPStatus(op string, status int, retryAfter string) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited(op, parseRetryAfter(retryAfter)).With(detailHTTPStatus, status)
	case status >= 500:
		return Unavailable(op).With(detailHTTPStatus, status)
	case status == http.StatusUnauthorized:
		return Authentication(op + " rejected credentials").With(detailHTTPStatus, status)
	case status == http.StatusForbidden:
		return Authorization(op + " forbidden").With(detailHTTPStatus, status)
	case status == http.StatusNotFound:
		return New(KindNotFound, op+" endpoint not found").With(detailHTTPStatus, status)
	default:
		return Newf(KindAPI, "%s returned status %d", op, status).With(detailHTTPStatus, status)
	}
}

// FromNetError normalizes a transport-level failure (DNS, TLS, refused
// connections, timeouts) into the taxonomy.
func FromNetError(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, op+" timed out", err).With("operation", op)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(KindTimeout, op+" timed out", err).With("operation", op)
	}
	return Connection(op, err)
}

// parseRetryAfter understands the delta-seconds form of Retry-After.
// HTTP-date values are ignored; the retry layer falls back to its own
// backoff schedule.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
