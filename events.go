package codeflow

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType names an orchestration event.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"
	EventStageStarted      EventType = "stage.started"
	EventStageCompleted    EventType = "stage.completed"
	EventApprovalRequired  EventType = "approval.required"
	EventApprovalGranted   EventType = "approval.granted"
	EventTaskStarted       EventType = "task.started"
	EventTaskCompleted     EventType = "task.completed"
	EventTaskFailed        EventType = "task.failed"
)

// Event announces a workflow, stage, task, or approval transition. Events are
// emitted after the corresponding state has been durably persisted, so
// consumers may treat them as confirmations rather than intents.
type Event struct {
	Type       EventType      `json:"type"`
	WorkflowID string         `json:"workflow_id"`
	Timestamp  time.Time      `json:"timestamp"`
	AgentLabel string         `json:"agent_label,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Emitter receives orchestration events. Implementations must not block for
// long; the executor calls Emit inline between stage transitions.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// NullEmitter is a no-op implementation.
type NullEmitter struct{}

func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

func (e *NullEmitter) Emit(ctx context.Context, event Event) {}

// LogEmitter writes events to a structured logger.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Emit(ctx context.Context, event Event) {
	attrs := []any{
		"workflow_id", event.WorkflowID,
	}
	if event.AgentLabel != "" {
		attrs = append(attrs, "agent", event.AgentLabel)
	}
	for k, v := range event.Payload {
		attrs = append(attrs, k, v)
	}
	e.logger.InfoContext(ctx, string(event.Type), attrs...)
}

// EmitterChain fans one event out to multiple emitters in order.
type EmitterChain struct {
	emitters []Emitter
}

func NewEmitterChain(emitters ...Emitter) *EmitterChain {
	return &EmitterChain{emitters: emitters}
}

func (c *EmitterChain) Add(emitter Emitter) {
	c.emitters = append(c.emitters, emitter)
}

func (c *EmitterChain) Emit(ctx context.Context, event Event) {
	for _, emitter := range c.emitters {
		emitter.Emit(ctx, event)
	}
}

// CollectingEmitter records events in memory. Intended for tests and
// short-lived introspection. Safe for concurrent use.
type CollectingEmitter struct {
	mutex  sync.Mutex
	events []Event
}

func NewCollectingEmitter() *CollectingEmitter {
	return &CollectingEmitter{}
}

func (e *CollectingEmitter) Emit(ctx context.Context, event Event) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.events = append(e.events, event)
}

// Events returns a copy of the recorded events in emission order.
func (e *CollectingEmitter) Events() []Event {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	events := make([]Event, len(e.events))
	copy(events, e.events)
	return events
}

// EventsOfType returns the recorded events matching the given type.
func (e *CollectingEmitter) EventsOfType(t EventType) []Event {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	var matched []Event
	for _, event := range e.events {
		if event.Type == t {
			matched = append(matched, event)
		}
	}
	return matched
}
