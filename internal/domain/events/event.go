package events

import (
	"context"
	"time"
)

// Event is one dispatched occurrence. Events are never persisted.
type Event struct {
	Type       Type
	Payload    any
	Origin     string
	ReceivedAt time.Time

	// TaskID and Category are copied from the frame envelope when present.
	TaskID   string
	Category string
}

// Handler consumes events of the types it was registered for.
type Handler interface {
	HandleEvent(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}
