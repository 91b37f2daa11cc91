package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportStateSections(t *testing.T) {
	st := NewReportState("quantum error correction", nil)

	st.UpsertSection("Introduction", "draft")
	st.UpsertSection("Methods", "m1")
	require.Len(t, st.Sections, 2)

	// Upsert with an existing title replaces content in place.
	st.UpsertSection("Introduction", "final")
	require.Len(t, st.Sections, 2)
	assert.Equal(t, "final", st.Section("Introduction").Content)

	assert.True(t, st.RemoveSection("Methods"))
	assert.False(t, st.RemoveSection("Methods"))
	assert.Nil(t, st.Section("Methods"))
}

func TestReportStatePendingQueries(t *testing.T) {
	st := NewReportState("topic", nil)
	st.AddQuery("q1", nil)
	st.AddQuery("q2", nil)
	st.AddQuery("q3", nil)

	st.AddSearchBatch("q2", "tavily", []SearchHit{{Title: "hit", URL: "https://example.com"}})

	pending := st.PendingQueries()
	require.Len(t, pending, 2)
	assert.Equal(t, "q1", pending[0].Text)
	assert.Equal(t, "q3", pending[1].Text)
}

func TestReportStateClone(t *testing.T) {
	st := NewReportState("topic", nil)
	st.UpsertSection("Background", "b")
	st.Sections[0].Subsections = append(st.Sections[0].Subsections, &Section{Title: "History", Content: "h"})
	st.AddQuery("q1", map[string]any{"stage": "plan"})
	st.AddSearchBatch("q1", "exa", []SearchHit{{Title: "a", URL: "https://a"}})
	st.Metadata["nested"] = map[string]any{"k": "v"}
	st.SetIterations(2)

	clone := st.Clone()
	clone.UpsertSection("Background", "changed")
	clone.Sections[0].Subsections[0].Content = "changed"
	clone.Metadata["nested"].(map[string]any)["k"] = "changed"
	clone.SetIterations(9)
	clone.SearchResults[0].Hits[0].Title = "changed"

	assert.Equal(t, "b", st.Section("Background").Content)
	assert.Equal(t, "h", st.Sections[0].Subsections[0].Content)
	assert.Equal(t, "v", st.Metadata["nested"].(map[string]any)["k"])
	assert.Equal(t, 2, st.Iterations())
	assert.Equal(t, "a", st.SearchResults[0].Hits[0].Title)
}

func TestReportStateTouchMonotonic(t *testing.T) {
	st := NewReportState("topic", nil)
	first := st.LastUpdated
	time.Sleep(time.Millisecond)
	st.Touch()
	assert.True(t, st.LastUpdated.After(first) || st.LastUpdated.Equal(first))
	assert.False(t, st.LastUpdated.Before(st.StartTime))
}

func TestIterationsFromJSONNumbers(t *testing.T) {
	st := NewReportState("topic", nil)
	st.Metadata[MetaIterations] = float64(3)
	assert.Equal(t, 3, st.Iterations())

	st.Metadata[MetaIterations] = 4
	assert.Equal(t, 4, st.Iterations())

	delete(st.Metadata, MetaIterations)
	assert.Equal(t, 0, st.Iterations())
}
