package events

import "fmt"

// Event type constants shared by the bus, the publisher, and WebSocket clients.
const (
	// Flow lifecycle events
	EventTypeFlowStatus   = "flow.status"
	EventTypeFlowProgress = "flow.progress"

	// Stage execution events
	EventTypeStageStatus = "stage.status"

	// Task scheduling events
	EventTypeTaskSubmitted = "task.submitted"
	EventTypeTaskReady     = "task.ready"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskCancelled = "task.cancelled"
	EventTypeTaskTimeout   = "task.timeout"

	// Error reporting events
	EventTypeErrorReported = "error.reported"
	EventTypeAlertFired    = "alert.fired"
)

// WildcardType subscribes a handler to every event type on the bus.
const WildcardType = "*"

// GlobalFlowsChannel carries status updates for all flows. Clients subscribe
// to it for list views that track every flow at once.
const GlobalFlowsChannel = "flows"

// SystemChannel carries error reports and alert notifications.
const SystemChannel = "system"

// FlowChannel returns the channel name for events scoped to a single flow.
func FlowChannel(flowID string) string {
	return fmt.Sprintf("flow:%s", flowID)
}

// Event is the unit routed by the Bus. Payload is the marshaled JSON body
// delivered to WebSocket clients; typed accessors live on the payload structs.
type Event struct {
	// Type is one of the EventType constants above.
	Type string
	// Channel is the WebSocket channel the event belongs to.
	Channel string
	// Payload is the JSON-encoded event body.
	Payload []byte
}

// ClientMessage is a message received from a WebSocket client.
type ClientMessage struct {
	Action  string `json:"action"`  // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel"` // target channel for subscribe/unsubscribe
}
