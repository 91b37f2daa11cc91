package e2e

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/delver/pkg/llm"
	"github.com/probelab/delver/pkg/models"
)

// The linear topology plans an outline, then walks it one section at a
// time: queries, searches, draft. The first model call is gated so the
// test can attach to the flow's event channel while the flow is still
// inside plan_report.
func TestE2E_LinearFlow(t *testing.T) {
	responses := []string{
		"## Introduction\nWhy photosynthesis matters.\n\n" +
			"## Light Reactions\nHow chloroplasts capture light.\n\n" +
			"## Conclusion\nOpen questions.",
		"how photosynthesis converts light\nphotosynthesis energy pathway",
		"Photosynthesis turns sunlight into the chemical energy nearly every food web runs on.",
		"light dependent reactions photosystem II\nelectron transport chain chloroplast",
		"Photosystem II splits water and feeds electrons into the chain that charges ATP synthase.",
		"photosynthesis research open problems\nartificial photosynthesis progress",
		"Artificial leaves remain far less efficient than the pigment arrays they imitate.",
	}

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	next := 0
	model := llm.NewScripted("openai", func(llm.Request) (string, error) {
		mu.Lock()
		idx := next
		next++
		mu.Unlock()
		if idx == 0 {
			once.Do(func() { close(started) })
			<-release
		}
		return responses[min(idx, len(responses)-1)], nil
	})
	app := NewTestApp(t, WithModel(model))

	ctx := context.Background()
	ws, err := WSConnect(ctx, app.WSURL)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()
	require.NoError(t, ws.Subscribe("flows"))

	id := app.StartFlow(t, "photosynthesis", map[string]any{
		"research_mode":     "linear",
		"number_of_queries": 2,
		"max_search_depth":  2,
	})

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("flow never reached the model")
	}
	require.NoError(t, ws.Subscribe(flowChannel(id)))
	close(release)

	_, err = ws.WaitForFlowStatus(id, "completed", 15*time.Second)
	require.NoError(t, err)

	f := app.WaitForFlowStatus(t, id, models.FlowStatusCompleted)
	require.NotNil(t, f.Result)
	assert.InDelta(t, 1.0, f.Progress, 0.001)
	assert.Contains(t, f.Result.Report, "# photosynthesis")
	assert.Contains(t, f.Result.Report, "## Light Reactions")
	assert.Contains(t, f.Result.Report, "chemical energy nearly every food web")
	assert.Contains(t, f.Result.Report, "charges ATP synthase")

	require.GreaterOrEqual(t, len(f.Result.Sections), 3)
	assert.Equal(t, "Introduction", f.Result.Sections[0].Title)
	assert.Equal(t, "Conclusion", f.Result.Sections[len(f.Result.Sections)-1].Title)

	// Provenance stamps from the initialize stage.
	assert.Equal(t, "linear", f.State.Metadata[models.MetaResearchMode])
	assert.Equal(t, "tavily", f.State.Metadata[models.MetaSearchAPI])
	assert.Nil(t, f.State.Metadata[models.MetaFallbackUsed])

	// One plan call, then a query round and a draft per section.
	assert.Equal(t, 7, model.CallCount())

	// The global channel carried the full lifecycle in order.
	assert.Equal(t, []string{"pending", "running", "completed"}, ws.FlowStatuses(id))

	// The flow channel carried stage transitions and progress for
	// everything after the gated planning call.
	stageEvents := ws.EventsByType("stage.status")
	require.NotEmpty(t, stageEvents)
	seen := map[string]bool{}
	for _, e := range stageEvents {
		if stage, ok := e.Parsed["stage"].(string); ok {
			if status, ok := e.Parsed["status"].(string); ok && status == "completed" {
				seen[stage] = true
			}
		}
	}
	assert.True(t, seen["plan_report"], "missing plan_report completion, saw %v", seen)
	assert.True(t, seen["generate_queries"], "missing generate_queries completion, saw %v", seen)
	assert.True(t, seen["write_section"], "missing write_section completion, saw %v", seen)
	assert.NotEmpty(t, ws.EventsByType("flow.progress"))
}
