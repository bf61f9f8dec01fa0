package delivery

import (
	"context"
	"errors"

	"pullplatypus/internal"
	"pullplatypus/pkg/notify"
)

// QueueSender hands messages to the queue publisher instead of calling Slack.
// A worker on the other side of the topic performs the actual send.
type QueueSender struct {
	publisher internal.Publisher
	topic     string
	drivers   []string
}

func NewQueueSender(publisher internal.Publisher, topic string, drivers []string) (*QueueSender, error) {
	if publisher == nil {
		return nil, errors.New("queue sender requires a publisher")
	}
	if topic == "" {
		return nil, errors.New("queue sender requires a topic")
	}
	return &QueueSender{publisher: publisher, topic: topic, drivers: drivers}, nil
}

func (q *QueueSender) Send(ctx context.Context, msg notify.AddressedMessage) error {
	return q.publisher.PublishForDrivers(ctx, q.topic, msg, q.drivers)
}
