package e2e

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/llm"
	"github.com/probelab/delver/pkg/models"
)

// A batch that exceeds the admission limit starts the flows that fit
// and reports the rest as errors, all in one response.
func TestE2E_AdmissionLimit(t *testing.T) {
	release := make(chan struct{})
	var releaseOnce sync.Once
	releaseFlows := func() { releaseOnce.Do(func() { close(release) }) }
	model := llm.NewScripted("openai", func(llm.Request) (string, error) {
		<-release
		return "## Admitted\nThe slot was held until the batch settled.", nil
	})
	defer releaseFlows()

	app := NewTestApp(t,
		WithModel(model),
		WithConfig(func(cfg *config.Config) {
			cfg.Flows.MaxConcurrentFlows = 2
		}))

	resp := app.StartFlows(t, []string{"container networking", "container storage", "container runtimes"}, nil)

	assert.Equal(t, float64(2), resp["accepted_count"])
	ids, ok := resp["flow_ids"].([]any)
	require.True(t, ok, "flow_ids missing from %v", resp)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])

	errs, ok := resp["errors"].([]any)
	require.True(t, ok, "errors missing from %v", resp)
	require.Len(t, errs, 1)
	msg, _ := errs[0].(string)
	assert.Contains(t, msg, "container runtimes:")
	assert.Contains(t, msg, "too many concurrent flows")

	// The rejected topic never became a flow.
	list := app.getJSON(t, "/api/v1/flows", OperatorKey, http.StatusOK)
	assert.Equal(t, float64(2), list["total"])

	// Release the gate so both admitted flows finish and free their
	// admission slots before shutdown.
	releaseFlows()
	for _, raw := range ids {
		id, _ := raw.(string)
		app.WaitForFlowStatus(t, id, models.FlowStatusCompleted)
	}
}
