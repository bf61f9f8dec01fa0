package worker

import (
	"context"

	"pullplatypus/pkg/delivery"
)

// Handler is a function that processes an event.
type Handler func(ctx context.Context, evt *Event) error

// Middleware is a function that wraps a handler to add functionality.
type Middleware func(Handler) Handler

// SendHandler delivers each event's message through sender.
func SendHandler(sender delivery.Sender) Handler {
	return func(ctx context.Context, evt *Event) error {
		return sender.Send(ctx, evt.Message)
	}
}
