package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	e := New(KindValidation, "topic must not be empty")

	assert.Equal(t, KindValidation, e.Kind())
	assert.Equal(t, SeverityError, e.Severity())
	assert.Equal(t, CategoryValidation, e.Category())
	assert.Equal(t, "ValidationError: topic must not be empty", e.Error())
	assert.False(t, e.Time().IsZero())
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	e := Wrap(KindConnection, "tavily search failed", cause)

	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "connection refused")

	var target *Error
	require.ErrorAs(t, fmt.Errorf("stage failed: %w", e), &target)
	assert.Equal(t, KindConnection, target.Kind())
}

func TestWithDetailAndOverrides(t *testing.T) {
	e := New(KindAPI, "bad response").
		With("backend", "exa").
		WithSeverity(SeverityCritical).
		WithCategory(CategoryNetwork)

	v, ok := e.Detail("backend")
	require.True(t, ok)
	assert.Equal(t, "exa", v)
	assert.Equal(t, SeverityCritical, e.Severity())
	assert.Equal(t, CategoryNetwork, e.Category())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"taxonomy error", Timeout("search"), KindTimeout},
		{"wrapped taxonomy error", fmt.Errorf("outer: %w", Validation("bad")), KindValidation},
		{"context deadline", context.DeadlineExceeded, KindTimeout},
		{"plain error", errors.New("boom"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(RateLimited("tavily", 0)))
	assert.True(t, IsTransient(Timeout("exa")))
	assert.True(t, IsTransient(Unavailable("pubmed")))
	assert.True(t, IsTransient(Connection("arxiv", errors.New("reset"))))
	assert.True(t, IsTransient(New(KindTransient, "flaky")))
	assert.True(t, IsTransient(context.DeadlineExceeded))

	assert.False(t, IsTransient(Validation("bad input")))
	assert.False(t, IsTransient(New(KindPermanent, "gone")))
	assert.False(t, IsTransient(CircuitOpenError("search:tavily", time.Second)))
	assert.False(t, IsTransient(nil))
}

func TestFromHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		wantKind   Kind
	}{
		{"rate limited", 429, "30", KindRateLimit},
		{"server error", 500, "", KindServiceUnavailable},
		{"bad gateway", 502, "", KindServiceUnavailable},
		{"unauthorized", 401, "", KindAuthentication},
		{"forbidden", 403, "", KindAuthorization},
		{"not found", 404, "", KindNotFound},
		{"bad request", 400, "", KindAPI},
		{"teapot", 418, "", KindAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := FromHTTPStatus("tavily search", tt.status, tt.retryAfter)
			assert.Equal(t, tt.wantKind, e.Kind())

			v, ok := e.Detail("http_status")
			require.True(t, ok)
			assert.Equal(t, tt.status, v)
		})
	}
}

func TestRetryAfterHint(t *testing.T) {
	e := FromHTTPStatus("search", 429, "30")
	assert.Equal(t, 30*time.Second, RetryAfter(e))

	assert.Zero(t, RetryAfter(FromHTTPStatus("search", 429, "")))
	assert.Zero(t, RetryAfter(FromHTTPStatus("search", 429, "Wed, 21 Oct 2026 07:28:00 GMT")))
	assert.Zero(t, RetryAfter(errors.New("not ours")))
}

func TestCircuitOpenError(t *testing.T) {
	e := CircuitOpenError("search:tavily", 1500*time.Millisecond)

	assert.Equal(t, KindCircuitOpen, e.Kind())
	assert.Equal(t, 1500*time.Millisecond, RecoveryRemaining(e))
	assert.Zero(t, RecoveryRemaining(Validation("other")))
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityError))
	assert.True(t, SeverityError.AtLeast(SeverityError))
	assert.False(t, SeverityWarning.AtLeast(SeverityError))
	assert.False(t, SeverityDebug.AtLeast(SeverityInfo))
}

func TestDefaultsCoverEveryKind(t *testing.T) {
	kinds := []Kind{
		KindValidation, KindNotFound, KindAuthentication, KindAuthorization,
		KindConnection, KindTimeout, KindRateLimit, KindServiceUnavailable,
		KindAPI, KindConfiguration, KindResource, KindTask, KindPlugin,
		KindDataProcessing, KindTransformation, KindExtraction, KindAnalysis,
		KindCircuitOpen, KindConcurrency, KindDependency, KindState,
		KindTransient, KindPermanent,
	}

	for _, k := range kinds {
		assert.True(t, k.IsValid(), "kind %s", k)
		assert.True(t, DefaultSeverity(k).IsValid(), "severity for %s", k)
		assert.True(t, DefaultCategory(k).IsValid(), "category for %s", k)
	}
}
