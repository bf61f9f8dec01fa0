package worker

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// MiddlewareFromWatermill lets stock watermill handler middleware (retry,
// recoverer, timeout) wrap a worker Handler.
func MiddlewareFromWatermill(m message.HandlerMiddleware) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *Event) error {
			payload, err := json.Marshal(evt.Message)
			if err != nil {
				return err
			}
			msg := message.NewMessage(watermill.NewUUID(), payload)
			msg.SetContext(ctx)
			for key, value := range evt.Metadata {
				msg.Metadata.Set(key, value)
			}
			wrapped := m(func(msg *message.Message) ([]*message.Message, error) {
				return nil, next(msg.Context(), evt)
			})
			_, err = wrapped(msg)
			return err
		}
	}
}
