package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(bus *Bus) *[]Event {
	var events []Event
	bus.Subscribe(WildcardType, func(event Event) {
		events = append(events, event)
	})
	return &events
}

func TestPublisher_FlowStatusDualChannel(t *testing.T) {
	bus := NewBus()
	events := collectEvents(bus)
	publisher := NewPublisher(bus)

	publisher.PublishFlowStatus(FlowStatusPayload{
		FlowID:   "flow-1",
		Status:   "running",
		Topic:    "quantum error correction",
		Topology: "linear",
		Progress: 0.25,
	})

	require.Len(t, *events, 2)
	assert.Equal(t, "flow:flow-1", (*events)[0].Channel)
	assert.Equal(t, GlobalFlowsChannel, (*events)[1].Channel)

	var payload FlowStatusPayload
	require.NoError(t, json.Unmarshal((*events)[0].Payload, &payload))
	assert.Equal(t, EventTypeFlowStatus, payload.Type)
	assert.Equal(t, "flow-1", payload.FlowID)
	assert.Equal(t, "running", payload.Status)
	assert.Equal(t, 0.25, payload.Progress)

	ts, err := time.Parse(time.RFC3339Nano, payload.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)

	// Both channels carry the same body.
	assert.Equal(t, (*events)[0].Payload, (*events)[1].Payload)
}

func TestPublisher_FlowProgressSingleChannel(t *testing.T) {
	bus := NewBus()
	events := collectEvents(bus)
	publisher := NewPublisher(bus)

	publisher.PublishFlowProgress(FlowProgressPayload{
		FlowID:         "flow-2",
		Progress:       0.5,
		CompletedSteps: 3,
		TotalSteps:     6,
		CurrentStage:   "research",
	})

	require.Len(t, *events, 1)
	assert.Equal(t, "flow:flow-2", (*events)[0].Channel)
	assert.Equal(t, EventTypeFlowProgress, (*events)[0].Type)
}

func TestPublisher_TaskEventChannelRouting(t *testing.T) {
	bus := NewBus()
	events := collectEvents(bus)
	publisher := NewPublisher(bus)

	publisher.PublishTaskEvent(EventTypeTaskStarted, TaskStatusPayload{
		TaskID: "task-1",
		FlowID: "flow-3",
		Status: "running",
	})
	publisher.PublishTaskEvent(EventTypeTaskSubmitted, TaskStatusPayload{
		TaskID: "task-2",
		Status: "pending",
	})

	require.Len(t, *events, 2)
	assert.Equal(t, "flow:flow-3", (*events)[0].Channel)
	assert.Equal(t, EventTypeTaskStarted, (*events)[0].Type)

	// A task with no flow goes to the global channel.
	assert.Equal(t, GlobalFlowsChannel, (*events)[1].Channel)

	var payload TaskStatusPayload
	require.NoError(t, json.Unmarshal((*events)[1].Payload, &payload))
	assert.Equal(t, EventTypeTaskSubmitted, payload.Type)
	assert.Equal(t, "task-2", payload.TaskID)
}

func TestPublisher_StageStatus(t *testing.T) {
	bus := NewBus()
	events := collectEvents(bus)
	publisher := NewPublisher(bus)

	publisher.PublishStageStatus(StageStatusPayload{
		FlowID:     "flow-4",
		Stage:      "generate_queries",
		Status:     "completed",
		DurationMs: 120,
	})

	require.Len(t, *events, 1)
	assert.Equal(t, "flow:flow-4", (*events)[0].Channel)

	var payload StageStatusPayload
	require.NoError(t, json.Unmarshal((*events)[0].Payload, &payload))
	assert.Equal(t, EventTypeStageStatus, payload.Type)
	assert.Equal(t, "generate_queries", payload.Stage)
	assert.Equal(t, int64(120), payload.DurationMs)
}

func TestPublisher_SystemChannelEvents(t *testing.T) {
	bus := NewBus()
	events := collectEvents(bus)
	publisher := NewPublisher(bus)

	publisher.PublishErrorReported(ErrorReportedPayload{
		ErrorType: "SearchAPIError",
		Severity:  "error",
		Category:  "search",
		Message:   "tavily returned 502",
	})
	publisher.PublishAlertFired(AlertFiredPayload{
		Rule:      "search-errors",
		ErrorType: "SearchAPIError",
		Count:     5,
		Threshold: 5,
		WindowSec: 60,
		Channels:  []string{"log"},
	})

	require.Len(t, *events, 2)
	assert.Equal(t, SystemChannel, (*events)[0].Channel)
	assert.Equal(t, SystemChannel, (*events)[1].Channel)

	var alert AlertFiredPayload
	require.NoError(t, json.Unmarshal((*events)[1].Payload, &alert))
	assert.Equal(t, EventTypeAlertFired, alert.Type)
	assert.Equal(t, "search-errors", alert.Rule)
	assert.Equal(t, 5, alert.Count)
}
