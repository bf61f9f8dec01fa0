package worker

import (
	"context"
	"errors"

	"pullplatypus/pkg/slack"
)

// Disposition is what happens to a message whose delivery failed.
type Disposition int

const (
	// Drop acks the message so the broker forgets it.
	Drop Disposition = iota
	// Redeliver nacks the message.
	Redeliver
)

func (d Disposition) String() string {
	if d == Redeliver {
		return "redeliver"
	}
	return "drop"
}

// RetryPolicy decides the disposition of a failed message. evt is nil when
// the message could not be decoded.
type RetryPolicy interface {
	OnError(ctx context.Context, evt *Event, err error) Disposition
}

// BrokerRetry redelivers every failure and leaves limits to the broker.
type BrokerRetry struct{}

func (BrokerRetry) OnError(ctx context.Context, evt *Event, err error) Disposition {
	return Redeliver
}

// DeliveryRetry redelivers transient failures and drops messages that can
// never succeed: undecodable payloads and Slack rejections such as an
// unknown channel.
type DeliveryRetry struct{}

func (DeliveryRetry) OnError(ctx context.Context, evt *Event, err error) Disposition {
	if evt == nil || errors.Is(err, ErrEmptyRecipient) || slack.IsPermanent(err) {
		return Drop
	}
	return Redeliver
}
