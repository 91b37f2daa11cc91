package e2e

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/delver/pkg/llm"
	"github.com/probelab/delver/pkg/models"
)

// The iterative topology loops queries, synthesis, report rewrite, and
// reflection until the configured depth, then strips the working
// sections and bookends the report. Depth 2 with one query per round
// consumes exactly ten model calls.
func TestE2E_IterativeResearchLoop(t *testing.T) {
	model := llm.NewScriptedQueue("openai",
		// Round one.
		"wasm server runtime latency",
		"WASI runtimes execute modules server side with capability-based sandboxing.",
		"## Server-Side WASM\n\nRuntimes like wasmtime execute modules outside the browser.",
		"The draft still lacks cold start numbers.",
		// Round two.
		"wasm cold start milliseconds",
		"Cold starts land in microseconds, far below container startup.",
		"## Server-Side WASM\n\nRuntimes like wasmtime execute modules outside the browser.\n\n## Performance\n\nCold starts land in microseconds.",
		"Coverage is adequate now.",
		// Finalize bookends.
		"This report examines server-side WebAssembly.",
		"Server-side WebAssembly is ready for production workloads.",
	)
	app := NewTestApp(t, WithModel(model))

	id := app.StartFlow(t, "server-side webassembly", map[string]any{
		"research_mode":     "iterative",
		"max_search_depth":  2,
		"number_of_queries": 1,
	})

	f := app.WaitForFlowStatus(t, id, models.FlowStatusCompleted)
	require.NotNil(t, f.Result)
	assert.Equal(t, 10, model.CallCount())

	report := f.Result.Report
	assert.Contains(t, report, "# server-side webassembly")
	assert.Contains(t, report, "## Introduction")
	assert.Contains(t, report, "This report examines server-side WebAssembly.")
	assert.Contains(t, report, "## Server-Side WASM")
	assert.Contains(t, report, "## Performance")
	assert.Contains(t, report, "## Conclusion")
	assert.Contains(t, report, "ready for production workloads")

	// The scaffolding sections never reach the finished report.
	assert.NotContains(t, report, "## Research Plan")
	assert.NotContains(t, report, "## Knowledge Synthesis")
	assert.NotContains(t, report, "## Reflection")
	require.Len(t, f.Result.Sections, 4)

	// The per-flow overrides round-tripped and the state carries its
	// provenance stamps.
	require.NotNil(t, f.Config)
	assert.Equal(t, 2, f.Config.MaxSearchDepth)
	assert.Equal(t, 1, f.Config.NumberOfQueries)
	require.NotNil(t, f.State)
	assert.Equal(t, "iterative", f.State.Metadata["research_mode"])
	assert.Len(t, f.State.Queries, 2)
}
