package events

import (
	"encoding/json"
	"log/slog"
)

// Publisher offers typed publish methods over the bus. Each method builds the
// payload, stamps it, and routes it to the channel WebSocket clients watch.
type Publisher struct {
	bus    *Bus
	logger *slog.Logger
}

// NewPublisher creates a publisher bound to the given bus.
func NewPublisher(bus *Bus) *Publisher {
	return &Publisher{
		bus:    bus,
		logger: slog.Default().With("component", "event_publisher"),
	}
}

// Bus returns the underlying bus, for subscribers.
func (p *Publisher) Bus() *Bus {
	return p.bus
}

// PublishFlowStatus publishes a flow status transition to the flow's own
// channel and to the global flows channel, so both detail and list views
// stay current.
func (p *Publisher) PublishFlowStatus(payload FlowStatusPayload) {
	payload.Type = EventTypeFlowStatus
	payload.Timestamp = eventTimestamp()

	body := p.marshal(payload.Type, payload)
	if body == nil {
		return
	}
	p.bus.Publish(Event{Type: payload.Type, Channel: FlowChannel(payload.FlowID), Payload: body})
	p.bus.Publish(Event{Type: payload.Type, Channel: GlobalFlowsChannel, Payload: body})
}

// PublishFlowProgress publishes incremental progress to the flow's channel.
func (p *Publisher) PublishFlowProgress(payload FlowProgressPayload) {
	payload.Type = EventTypeFlowProgress
	payload.Timestamp = eventTimestamp()

	body := p.marshal(payload.Type, payload)
	if body == nil {
		return
	}
	p.bus.Publish(Event{Type: payload.Type, Channel: FlowChannel(payload.FlowID), Payload: body})
}

// PublishStageStatus publishes a stage transition to the flow's channel.
func (p *Publisher) PublishStageStatus(payload StageStatusPayload) {
	payload.Type = EventTypeStageStatus
	payload.Timestamp = eventTimestamp()

	body := p.marshal(payload.Type, payload)
	if body == nil {
		return
	}
	p.bus.Publish(Event{Type: payload.Type, Channel: FlowChannel(payload.FlowID), Payload: body})
}

// PublishTaskEvent publishes a scheduler task event. eventType must be one of
// the task.* constants. Tasks tied to a flow go to that flow's channel,
// detached tasks go to the global flows channel.
func (p *Publisher) PublishTaskEvent(eventType string, payload TaskStatusPayload) {
	payload.Type = eventType
	payload.Timestamp = eventTimestamp()

	body := p.marshal(eventType, payload)
	if body == nil {
		return
	}
	channel := GlobalFlowsChannel
	if payload.FlowID != "" {
		channel = FlowChannel(payload.FlowID)
	}
	p.bus.Publish(Event{Type: eventType, Channel: channel, Payload: body})
}

// PublishErrorReported publishes an accepted error report to the system channel.
func (p *Publisher) PublishErrorReported(payload ErrorReportedPayload) {
	payload.Type = EventTypeErrorReported
	payload.Timestamp = eventTimestamp()

	body := p.marshal(payload.Type, payload)
	if body == nil {
		return
	}
	p.bus.Publish(Event{Type: payload.Type, Channel: SystemChannel, Payload: body})
}

// PublishAlertFired publishes a fired alert rule to the system channel.
func (p *Publisher) PublishAlertFired(payload AlertFiredPayload) {
	payload.Type = EventTypeAlertFired
	payload.Timestamp = eventTimestamp()

	body := p.marshal(payload.Type, payload)
	if body == nil {
		return
	}
	p.bus.Publish(Event{Type: payload.Type, Channel: SystemChannel, Payload: body})
}

func (p *Publisher) marshal(eventType string, payload any) []byte {
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("Failed to marshal event payload", "event_type", eventType, "error", err)
		return nil
	}
	return body
}
