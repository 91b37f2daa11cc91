package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/delver/pkg/faults"
	"github.com/probelab/delver/pkg/models"
)

func TestErrorStats(t *testing.T) {
	f := newFixture(t, nil)

	f.reporter.Report(faults.Timeout("fetch"))
	f.reporter.Report(faults.Timeout("fetch"))
	f.reporter.Report(faults.Validation("bad topic"))

	rec := f.do(http.MethodGet, "/api/v1/errors/stats", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.ErrorStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByKind[faults.KindTimeout])
	assert.Equal(t, 1, stats.ByKind[faults.KindValidation])
}

func TestErrorVisualize(t *testing.T) {
	f := newFixture(t, nil)

	f.reporter.Report(faults.Timeout("fetch"))
	f.reporter.Report(faults.Validation("bad topic"))
	f.reporter.Report(faults.Validation("bad limit"))

	rec := f.do(http.MethodGet, "/api/v1/errors/visualize?group_by=kind&hours=1", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp VisualizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "kind", resp.GroupBy)
	require.Len(t, resp.Groups, 2)
	// Ordered by count descending.
	assert.Equal(t, "ValidationError", resp.Groups[0].Key)
	assert.Equal(t, 2, resp.Groups[0].Count)
}

func TestErrorVisualize_BadParams(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/v1/errors/visualize?group_by=color", adminKey, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ValidationError", decodeMap(t, rec)["error_type"])

	rec = f.do(http.MethodGet, "/api/v1/errors/visualize?hours=-2", adminKey, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/errors/visualize?max_errors=lots", adminKey, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorTrends(t *testing.T) {
	f := newFixture(t, nil)

	f.reporter.Report(faults.Timeout("fetch"))
	f.reporter.Report(faults.Unavailable("search"))

	rec := f.do(http.MethodGet, "/api/v1/errors/trends?hours=1&interval_minutes=30", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TrendsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Intervals)

	total := 0
	for _, interval := range resp.Intervals {
		total += interval.Total
	}
	assert.Equal(t, 2, total)
}

func TestErrorTrends_BadParams(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/v1/errors/trends?interval_minutes=0", adminKey, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ValidationError", decodeMap(t, rec)["error_type"])
}
