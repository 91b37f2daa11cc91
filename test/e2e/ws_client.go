package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// WSEvent is one received WebSocket event.
type WSEvent struct {
	Type     string          `json:"type"`
	Raw      json.RawMessage // original JSON
	Parsed   map[string]any  // parsed for assertions
	Received time.Time
}

// WSClient connects to the delver event stream and collects everything
// the server sends.
type WSClient struct {
	conn   *websocket.Conn
	events []WSEvent
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}
}

// WSConnect dials the event stream and starts collecting in a
// background goroutine. The first collected event is the server's
// connection.established welcome.
func WSConnect(ctx context.Context, wsURL string) (*WSClient, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)
	c := &WSClient{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Subscribe sends a subscribe action for the given channel and waits
// for the server's confirmation.
func (c *WSClient) Subscribe(channel string) error {
	msg := map[string]string{
		"action":  "subscribe",
		"channel": channel,
	}
	data, _ := json.Marshal(msg)
	if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		return err
	}
	_, err := c.WaitForEvent(func(e WSEvent) bool {
		return e.Type == "subscription.confirmed" && e.Parsed["channel"] == channel
	}, 5*time.Second)
	return err
}

// WaitForEvent waits until an event matching the predicate arrives, or
// the timeout expires.
func (c *WSClient) WaitForEvent(predicate func(WSEvent) bool, timeout time.Duration) (*WSEvent, error) {
	deadline := time.After(timeout)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event (collected %d events)", len(c.Events()))
		case <-tick.C:
			c.mu.Lock()
			for i := range c.events {
				if predicate(c.events[i]) {
					evt := c.events[i]
					c.mu.Unlock()
					return &evt, nil
				}
			}
			c.mu.Unlock()
		}
	}
}

// WaitForFlowStatus waits for a flow.status event carrying the given
// flow and status.
func (c *WSClient) WaitForFlowStatus(flowID, status string, timeout time.Duration) (*WSEvent, error) {
	return c.WaitForEvent(func(e WSEvent) bool {
		return e.Type == "flow.status" && e.Parsed["flow_id"] == flowID && e.Parsed["status"] == status
	}, timeout)
}

// Events returns a snapshot of everything collected so far.
func (c *WSClient) Events() []WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WSEvent, len(c.events))
	copy(out, c.events)
	return out
}

// EventsByType filters the collected events by type.
func (c *WSClient) EventsByType(eventType string) []WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []WSEvent
	for _, e := range c.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// FlowStatuses returns the status values of the flow.status events seen
// for one flow, in arrival order.
func (c *WSClient) FlowStatuses(flowID string) []string {
	var out []string
	for _, e := range c.EventsByType("flow.status") {
		if e.Parsed["flow_id"] != flowID {
			continue
		}
		if status, ok := e.Parsed["status"].(string); ok {
			out = append(out, status)
		}
	}
	return out
}

// Close tears the connection down and waits for the read loop to exit.
func (c *WSClient) Close() error {
	c.cancel()
	_ = c.conn.CloseNow()
	<-c.doneCh
	return nil
}

func (c *WSClient) readLoop() {
	defer close(c.doneCh)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return // connection closed or context cancelled
		}

		var parsed map[string]any
		if err := json.Unmarshal(data, &parsed); err != nil {
			continue // skip malformed messages
		}

		evt := WSEvent{
			Raw:      json.RawMessage(data),
			Parsed:   parsed,
			Received: time.Now(),
		}
		if t, ok := parsed["type"].(string); ok {
			evt.Type = t
		}

		c.mu.Lock()
		c.events = append(c.events, evt)
		c.mu.Unlock()
	}
}
