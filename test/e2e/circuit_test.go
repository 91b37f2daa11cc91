package e2e

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
	"github.com/probelab/delver/pkg/llm"
	"github.com/probelab/delver/pkg/models"
	"github.com/probelab/delver/pkg/resilience"
)

// Five consecutive search failures open the tavily breaker. A flow
// started inside the recovery window fast-fails its searches without
// touching the backend; after the window a half-open probe succeeds and
// closes the circuit again. /healthz reports each transition.
func TestE2E_SearchBreakerOpensAndRecovers(t *testing.T) {
	// Three iterative flows, six model calls each: a query round, a
	// synthesis, a draft rewrite, a reflection, then the introduction
	// and conclusion.
	model := llm.NewScriptedQueue("openai",
		// Flow 1: five distinct queries, all of which will fail.
		"distributed tracing overhead\ntracing sampling strategies\nspan context propagation\ntrace storage costs\ntail sampling latency",
		"No sources came back; the tracing questions remain open.",
		"## Tracing Findings\nNothing verifiable yet.",
		"The draft rests on zero sources.",
		"This report examines distributed tracing.",
		"Sources were unavailable throughout.",
		// Flow 2: one query, rejected by the open breaker.
		"tracing overhead single query",
		"The breaker rejected the only search.",
		"## Fast Fail\nThe search never reached the backend.",
		"Still no sources.",
		"This report examines tracing fast failure.",
		"The circuit stayed open.",
		// Flow 3: one query, served by the half-open probe.
		"tracing recovery probe",
		"The probe search came back with sources.",
		"## Recovered\nThe backend answered again.",
		"One source backs the draft.",
		"This report examines tracing recovery.",
		"The circuit closed again.",
	)

	backend := NewCannedBackend("tavily")
	backend.FailNext(5, faults.Unavailable("tavily search"))

	app := NewTestApp(t,
		WithModel(model),
		WithBackends(backend),
		WithConfig(func(cfg *config.Config) {
			cfg.Resilience.Breaker.FailureThreshold = 5
			cfg.Resilience.Breaker.RecoveryTimeout = time.Second
		}))

	overrides := map[string]any{"research_mode": "iterative", "max_search_depth": 1}

	// Flow 1 burns through the failure threshold: five searches, five
	// backend errors, breaker open. The flow itself still completes
	// because search failures degrade rather than abort.
	first := app.StartFlow(t, "distributed tracing", mergeOverrides(overrides, "number_of_queries", 5))
	f1 := app.WaitForFlowStatus(t, first, models.FlowStatusCompleted)
	assert.Equal(t, 5, backend.Calls())
	for _, batch := range f1.State.SearchResults {
		assert.Empty(t, batch.BackendID)
		assert.Empty(t, batch.Hits)
	}
	snap := breakerSnapshot(t, app, "search:tavily")
	assert.Equal(t, resilience.StateOpen, snap.State)
	assert.Equal(t, 5, snap.FailureCount)

	// Flow 2 starts inside the recovery window: its search is rejected
	// without a backend call.
	second := app.StartFlow(t, "tracing under failure", mergeOverrides(overrides, "number_of_queries", 1))
	f2 := app.WaitForFlowStatus(t, second, models.FlowStatusCompleted)
	assert.Equal(t, 5, backend.Calls())
	require.Len(t, f2.State.SearchResults, 1)
	assert.Empty(t, f2.State.SearchResults[0].BackendID)

	// Let the recovery window lapse, then probe. The backend has healed,
	// so the half-open probe succeeds and the breaker closes.
	time.Sleep(1200 * time.Millisecond)

	third := app.StartFlow(t, "tracing recovered", mergeOverrides(overrides, "number_of_queries", 1))
	f3 := app.WaitForFlowStatus(t, third, models.FlowStatusCompleted)
	assert.Equal(t, 6, backend.Calls())
	require.Len(t, f3.State.SearchResults, 1)
	assert.Equal(t, "tavily", f3.State.SearchResults[0].BackendID)
	require.Len(t, f3.State.SearchResults[0].Hits, 1)

	snap = breakerSnapshot(t, app, "search:tavily")
	assert.Equal(t, resilience.StateClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
}

// breakerSnapshot fetches /healthz and returns the named breaker entry.
func breakerSnapshot(t *testing.T, app *TestApp, name string) resilience.BreakerSnapshot {
	t.Helper()
	data := app.getRaw(t, "/healthz", "", http.StatusOK)
	var resp struct {
		Breakers []resilience.BreakerSnapshot `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(data, &resp))
	for _, b := range resp.Breakers {
		if b.Name == name {
			return b
		}
	}
	t.Fatalf("breaker %q not in health snapshot: %+v", name, resp.Breakers)
	return resilience.BreakerSnapshot{}
}

// mergeOverrides copies the base override map and sets one extra key.
func mergeOverrides(base map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}
