package worker

import (
	"context"

	"pullplatypus/internal"
)

// Listener provides hooks into the worker's lifecycle for logging, metrics, etc.
type Listener struct {
	OnStart         func(ctx context.Context)
	OnExit          func(ctx context.Context)
	OnMessageStart  func(ctx context.Context, evt *Event)
	OnMessageFinish func(ctx context.Context, evt *Event, err error)
	// OnError also fires for decode failures, with a nil evt.
	OnError func(ctx context.Context, evt *Event, err error)
}

// LogListener logs the worker lifecycle and counts deliveries under mode.
func LogListener(logger Logger, mode string) Listener {
	if logger == nil {
		logger = stdLogger{}
	}
	return Listener{
		OnStart: func(ctx context.Context) {
			logger.Printf("worker started")
		},
		OnExit: func(ctx context.Context) {
			logger.Printf("worker stopped")
		},
		OnMessageFinish: func(ctx context.Context, evt *Event, err error) {
			internal.IncDelivery(mode)
			if err != nil {
				internal.IncDeliveryError(mode)
				logger.Printf("delivery failed request_id=%s recipient=%s: %v", evt.RequestID, evt.Message.Recipient, err)
				return
			}
			logger.Printf("delivered request_id=%s recipient=%s", evt.RequestID, evt.Message.Recipient)
		},
		OnError: func(ctx context.Context, evt *Event, err error) {
			if evt == nil {
				logger.Printf("message dropped: %v", err)
			}
		},
	}
}
