package research

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
	"github.com/probelab/delver/pkg/llm"
	"github.com/probelab/delver/pkg/models"
	"github.com/probelab/delver/pkg/pipeline"
)

func TestBuild_UnknownMode(t *testing.T) {
	s, _ := testStages(t, llm.NewScripted("openai", nil))
	rc := config.DefaultResearchConfig()
	rc.ResearchMode = "freeform"

	_, err := Build(s, rc)

	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindValidation))
}

func TestBuild_TopologyShapes(t *testing.T) {
	s, _ := testStages(t, llm.NewScripted("openai", nil))

	tests := []struct {
		mode      config.ResearchMode
		start     string
		nodes     int
		estimated int
	}{
		{config.ModeLinear, StageInitialize, 6, 15},
		{config.ModeIterative, StageInitialize, 7, 12},
		{config.ModeMultiAgent, StageInitialize, 4, 4},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			rc := config.DefaultResearchConfig()
			rc.ResearchMode = tt.mode

			topo, err := Build(s, rc)

			require.NoError(t, err)
			assert.Equal(t, tt.start, topo.Graph.Start())
			assert.Len(t, topo.Graph.Nodes(), tt.nodes)
			assert.Equal(t, tt.estimated, topo.EstimatedSteps)
			assert.GreaterOrEqual(t, topo.MaxSteps, topo.EstimatedSteps)
		})
	}
}

// TestLinearTopologyRun drives the linear graph end to end: plan two
// sections, then loop query -> search -> write once per section.
func TestLinearTopologyRun(t *testing.T) {
	// Call order: plan_report, then generate_queries and write_section
	// once per planned section.
	model := llm.NewScriptedQueue("openai",
		"## Alpha\nabout alpha\n## Beta\nabout beta",
		"alpha query",
		"alpha prose",
		"beta query",
		"beta prose",
	)
	s, backend := testStages(t, model)
	state := testState("wasm", config.ModeLinear)

	topo, err := Build(s, state.Config)
	require.NoError(t, err)

	err = pipeline.NewEngine(topo.Graph, topo.MaxSteps).Run(context.Background(), state)

	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Beta"}, sectionTitles(state))
	assert.Equal(t, "alpha prose", state.Sections[0].Content)
	assert.Equal(t, "beta prose", state.Sections[1].Content)
	assert.Equal(t, 2, state.SectionCursor())
	assert.Equal(t, "linear", state.Metadata[models.MetaResearchMode])
	assert.Equal(t, 5, model.CallCount())

	// Two seed queries plus one generated per section.
	assert.Equal(t, []string{"wasm Alpha", "wasm Beta", "alpha query", "beta query"}, backend.seen())
	assert.Len(t, state.SearchResults, 4)
}

// TestIterativeTopologyRun drives the iterative graph through two
// reflect loops and the finalize stage.
func TestIterativeTopologyRun(t *testing.T) {
	// Call order per loop: generate_queries, synthesize_knowledge,
	// update_report, reflect_on_research; then the finalize stage asks
	// for the introduction and conclusion.
	model := llm.NewScriptedQueue("openai",
		"iter query one",
		"synth one",
		"## Draft\ndraft one",
		"critique one",
		"iter query two",
		"synth two",
		"## Draft\ndraft two",
		"critique two",
		"intro prose",
		"conclusion prose",
	)
	s, _ := testStages(t, model)
	state := testState("edge caching", config.ModeIterative)
	state.Config.MaxSearchDepth = 2

	topo, err := Build(s, state.Config)
	require.NoError(t, err)

	err = pipeline.NewEngine(topo.Graph, topo.MaxSteps).Run(context.Background(), state)

	require.NoError(t, err)
	assert.Equal(t, []string{SectionIntroduction, "Draft", SectionConclusion}, sectionTitles(state))
	assert.Equal(t, "draft two", state.Sections[1].Content)
	assert.Equal(t, 2, state.Iterations())
	assert.Equal(t, "iterative", state.Metadata[models.MetaResearchMode])
	assert.Equal(t, 10, model.CallCount())
	assert.Len(t, state.SearchResults, 3)
}

// TestMultiAgentTopologyRun drives the supervisor graph: decompose,
// fan out one researcher per sub-question, integrate.
func TestMultiAgentTopologyRun(t *testing.T) {
	// Call order: supervisor_plan, one researcher per sub-question in
	// branch order, integrate_report.
	model := llm.NewScriptedQueue("openai",
		"1. How does it scale?\n2. What does it cost?",
		"scale findings",
		"cost findings",
		"## Introduction\nopening\n## How does it scale?\nscale merged\n"+
			"## What does it cost?\ncost merged\n## Conclusion\nclosing",
	)
	s, backend := testStages(t, model)
	state := testState("serverless databases", config.ModeMultiAgent)

	topo, err := Build(s, state.Config)
	require.NoError(t, err)

	err = pipeline.NewEngine(topo.Graph, topo.MaxSteps).Run(context.Background(), state)

	require.NoError(t, err)
	assert.Equal(t, []string{
		SectionIntroduction,
		"How does it scale?",
		"What does it cost?",
		SectionConclusion,
	}, sectionTitles(state))
	assert.Equal(t, "scale merged", state.Sections[1].Content)
	assert.Equal(t, []string{"How does it scale?", "What does it cost?"}, backend.seen())
	assert.Len(t, state.SearchResults, 2)
}

// TestIterativeTopologySurvivesDegradedStages runs the loop with a
// model that fails every call: the non-fatal stages mark the state and
// the flow still produces a templated report.
func TestIterativeTopologySurvivesDegradedStages(t *testing.T) {
	s, _ := testStages(t, failingModel("provider outage"))
	state := testState("edge caching", config.ModeIterative)
	state.Config.MaxSearchDepth = 1

	topo, err := Build(s, state.Config)
	require.NoError(t, err)

	// update_report is fatal on a model error, so the loop dies there.
	err = pipeline.NewEngine(topo.Graph, topo.MaxSteps).Run(context.Background(), state)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage "+StageUpdateReport)
	assert.Contains(t, err.Error(), "updating report")
	assert.NotNil(t, stageErr(state, StageGenerateQueries))
	assert.NotNil(t, stageErr(state, StageSynthesize))
}

// TestLinearTopologyStepCap forces a plan with more sections than the
// cap can serve and checks the engine trips instead of spinning.
func TestLinearTopologyStepCap(t *testing.T) {
	model := llm.NewScriptedQueue("openai", "## Only\nsection")
	s, _ := testStages(t, model)
	state := testState("tiny", config.ModeLinear)

	topo, err := Build(s, state.Config)
	require.NoError(t, err)

	err = pipeline.NewEngine(topo.Graph, 3).Run(context.Background(), state)

	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindState))
}
