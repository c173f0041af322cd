// Package stream provides the best-effort real-time broadcaster for
// pipeline lifecycle events. It bridges the hook extension system to
// connected observers via topic-based pub/sub. Delivery is at-most-once:
// a slow or disconnected subscriber is dropped, never allowed to block
// the driver. Observers needing current state query a snapshot separately;
// the broker does not replay history.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventWorkflowCreated   EventType = "workflow.created"
	EventStageStarted      EventType = "stage.started"
	EventStageCompleted    EventType = "stage.completed"
	EventStageFailed       EventType = "stage.failed"
	EventStageRetrying     EventType = "stage.retrying"
	EventWorkflowPaused    EventType = "workflow.paused"
	EventWorkflowResumed   EventType = "workflow.resumed"
	EventWorkflowRerouted  EventType = "workflow.rerouted"
	EventWorkflowAwaiting  EventType = "workflow.awaiting_reply"
	EventWorkflowCancelled EventType = "workflow.cancelled"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// WorkflowID is the workflow this event belongs to.
	WorkflowID string `json:"workflow_id"`

	// Stage is the pipeline stage the event refers to, when applicable.
	Stage string `json:"stage,omitempty"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload, opaque to the broker.
	Data json.RawMessage `json:"data,omitempty"`
}

// WorkflowEventData is the payload for workflow lifecycle events.
type WorkflowEventData struct {
	WorkflowID  string `json:"workflow_id"`
	ProspectRef string `json:"prospect_ref,omitempty"`
	Stage       string `json:"stage,omitempty"`
	Status      string `json:"status,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Error       string `json:"error,omitempty"`
	Attempt     int    `json:"attempt,omitempty"`
	DelayMs     int64  `json:"delay_ms,omitempty"`
	ElapsedMs   int64  `json:"elapsed_ms,omitempty"`
	From        string `json:"from,omitempty"`
	To          string `json:"to,omitempty"`
}
