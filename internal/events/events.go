package events

import (
	"context"
	"time"
)

// EventType names a worker lifecycle transition.
type EventType string

// Worker lifecycle event types.
const (
	WorkerStarted EventType = "worker_started"
	BatchClaimed  EventType = "batch_claimed"
	ClaimEmpty    EventType = "claim_empty"
	ClaimFailed   EventType = "claim_failed"
	ItemSettled   EventType = "item_settled"
	BatchDone     EventType = "batch_done"
	WorkerStopped EventType = "worker_stopped"
)

// WorkerEvent is a single lifecycle report from a worker.
type WorkerEvent struct {
	WorkerID string    `json:"worker_id"`
	Type     EventType `json:"type"`

	// Count is the batch size for batch_claimed and the number of items
	// processed so far for batch_done and worker_stopped.
	Count int `json:"count,omitempty"`

	// TaskID, Status and Reason describe the item for item_settled.
	TaskID string `json:"task_id,omitempty"`
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`

	At time.Time `json:"at"`
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *WorkerEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *WorkerEvent) error

// HandleEvent implements EventHandler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *WorkerEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows workers to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event.
	EmitEvent(ctx context.Context, event *WorkerEvent) error
}

// Discard is an EventEmitter that drops every event.
var Discard EventEmitter = discard{}

type discard struct{}

func (discard) EmitEvent(context.Context, *WorkerEvent) error { return nil }
