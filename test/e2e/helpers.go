package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/probelab/delver/pkg/models"
)

// StartFlows posts a batch of topics and returns the parsed admission
// response: flow_ids, accepted_count, errors.
func (app *TestApp) StartFlows(t *testing.T, topics []string, researchOverrides map[string]any) map[string]any {
	t.Helper()
	body := map[string]any{"topics": topics}
	if researchOverrides != nil {
		body["config"] = researchOverrides
	}
	return app.postJSON(t, "/api/v1/flows", OperatorKey, body, http.StatusAccepted)
}

// StartFlow posts one topic and returns its flow id.
func (app *TestApp) StartFlow(t *testing.T, topic string, researchOverrides map[string]any) string {
	t.Helper()
	resp := app.StartFlows(t, []string{topic}, researchOverrides)
	ids, ok := resp["flow_ids"].([]any)
	require.True(t, ok, "flow_ids missing from %v", resp)
	require.Len(t, ids, 1, "expected one admitted flow, got %v", resp)
	id, _ := ids[0].(string)
	require.NotEmpty(t, id)
	return id
}

// ContinueFlow starts a follow-up flow seeded from a completed one.
func (app *TestApp) ContinueFlow(t *testing.T, previousFlowID, topic string) string {
	t.Helper()
	body := map[string]any{
		"previous_flow_id": previousFlowID,
		"topic":            topic,
	}
	resp := app.postJSON(t, "/api/v1/flows/continue", OperatorKey, body, http.StatusAccepted)
	id, _ := resp["flow_id"].(string)
	require.NotEmpty(t, id)
	return id
}

// GetFlow retrieves one flow as a loosely typed map.
func (app *TestApp) GetFlow(t *testing.T, flowID string) map[string]any {
	t.Helper()
	return app.getJSON(t, "/api/v1/flows/"+flowID, OperatorKey, http.StatusOK)
}

// GetFlowModel retrieves one flow decoded into the domain type.
func (app *TestApp) GetFlowModel(t *testing.T, flowID string) *models.Flow {
	t.Helper()
	data := app.getRaw(t, "/api/v1/flows/"+flowID, OperatorKey, http.StatusOK)
	var f models.Flow
	require.NoError(t, json.Unmarshal(data, &f))
	return &f
}

// CancelFlow posts a cancellation and returns whether it took effect.
func (app *TestApp) CancelFlow(t *testing.T, flowID string) bool {
	t.Helper()
	resp := app.postJSON(t, "/api/v1/flows/"+flowID+"/cancel", OperatorKey, nil, http.StatusOK)
	cancelled, _ := resp["cancelled"].(bool)
	return cancelled
}

// WaitForFlowStatus polls the flow until it reaches the wanted status,
// then returns it fully decoded. The poll closure stays assertion-free;
// failures surface through Eventually's own timeout.
func (app *TestApp) WaitForFlowStatus(t *testing.T, flowID string, status models.FlowStatus) *models.Flow {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := app.do(http.MethodGet, "/api/v1/flows/"+flowID, OperatorKey, nil)
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var f models.Flow
		if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
			return false
		}
		return f.Status == status
	}, 15*time.Second, 25*time.Millisecond, "flow %s never reached status %s", flowID, status)
	return app.GetFlowModel(t, flowID)
}

// ErrorStats fetches the aggregated error statistics.
func (app *TestApp) ErrorStats(t *testing.T) map[string]any {
	t.Helper()
	return app.getJSON(t, "/api/v1/errors/stats", AdminKey, http.StatusOK)
}

func (app *TestApp) do(method, path, key string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(context.Background(), method, app.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", key)
	return http.DefaultClient.Do(req)
}

func (app *TestApp) postJSON(t *testing.T, path, key string, body any, expectedStatus int) map[string]any {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	resp, err := app.do(http.MethodPost, path, key, reader)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	payload, readErr := io.ReadAll(resp.Body)
	require.NoError(t, readErr)
	require.Equal(t, expectedStatus, resp.StatusCode, "POST %s: unexpected status, body %s", path, payload)
	var result map[string]any
	require.NoError(t, json.Unmarshal(payload, &result))
	return result
}

func (app *TestApp) getJSON(t *testing.T, path, key string, expectedStatus int) map[string]any {
	t.Helper()
	var result map[string]any
	require.NoError(t, json.Unmarshal(app.getRaw(t, path, key, expectedStatus), &result))
	return result
}

func (app *TestApp) getRaw(t *testing.T, path, key string, expectedStatus int) []byte {
	t.Helper()
	resp, err := app.do(http.MethodGet, path, key, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	payload, readErr := io.ReadAll(resp.Body)
	require.NoError(t, readErr)
	require.Equal(t, expectedStatus, resp.StatusCode, "GET %s: unexpected status, body %s", path, payload)
	return payload
}

// flowChannel names the per-flow websocket channel.
func flowChannel(flowID string) string {
	return fmt.Sprintf("flow:%s", flowID)
}
