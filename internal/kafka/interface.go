package kafka

import (
	"context"
	"time"
)

// Lifecycle event types.
const (
	EventMessageCreated = "message.created"
	EventMessageEdited  = "message.edited"
	EventMessageDeleted = "message.deleted"
	EventCallEnded      = "call.ended"
)

// LifecycleEvent is published after a durable state change. Key groups
// events of one room onto one partition.
type LifecycleEvent struct {
	Type      string      `json:"type"`
	Key       string      `json:"-"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type EventProducer interface {
	Produce(ctx context.Context, ev *LifecycleEvent) error
	Close() error
}
