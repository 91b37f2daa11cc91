package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertRuleLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	// Starts empty.
	rec := f.do(http.MethodGet, "/api/v1/alerts", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list AlertRulesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list.Rules)

	// Add a rule.
	rec = f.do(http.MethodPost, "/api/v1/alerts", adminKey,
		`{"name":"timeout-burst","min_severity":"warning","kinds":["TimeoutError"],"count_threshold":3,"window":"5m"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/alerts", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Rules, 1)
	assert.Equal(t, "timeout-burst", list.Rules[0].Name)
	assert.Equal(t, 3, list.Rules[0].CountThreshold)
	assert.Equal(t, "5m0s", list.Rules[0].Window)

	// Remove it.
	rec = f.do(http.MethodDelete, "/api/v1/alerts/0", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var removed RemoveAlertResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &removed))
	assert.True(t, removed.Removed)

	rec = f.do(http.MethodGet, "/api/v1/alerts", adminKey, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list.Rules)
}

func TestAddAlert_Validation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"count_threshold":3,"window":"5m"}`},
		{"zero threshold", `{"name":"r","count_threshold":0,"window":"5m"}`},
		{"missing window", `{"name":"r","count_threshold":3}`},
		{"malformed window", `{"name":"r","count_threshold":3,"window":"five minutes"}`},
		{"unknown severity", `{"name":"r","min_severity":"loud","count_threshold":3,"window":"5m"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/v1/alerts", adminKey, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "ValidationError", decodeMap(t, rec)["error_type"])
		})
	}
}

func TestRemoveAlert_BadIndex(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodDelete, "/api/v1/alerts/7", adminKey, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFoundError", decodeMap(t, rec)["error_type"])

	rec = f.do(http.MethodDelete, "/api/v1/alerts/seven", adminKey, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ValidationError", decodeMap(t, rec)["error_type"])
}
