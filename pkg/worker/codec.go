package worker

import (
	"encoding/json"
	"errors"
	"fmt"

	"pullplatypus/pkg/notify"

	"github.com/ThreeDotsLabs/watermill/message"
)

// ErrEmptyRecipient is returned for queued messages with no recipient.
var ErrEmptyRecipient = errors.New("queued message has no recipient")

// Codec is an interface for decoding messages from a message broker into an Event.
type Codec interface {
	Decode(topic string, msg *message.Message) (*Event, error)
}

// DefaultCodec decodes the JSON AddressedMessage written by the server's publisher.
type DefaultCodec struct{}

func (DefaultCodec) Decode(topic string, msg *message.Message) (*Event, error) {
	var addressed notify.AddressedMessage
	if err := json.Unmarshal(msg.Payload, &addressed); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", msg.UUID, err)
	}
	if addressed.Recipient == "" {
		return nil, fmt.Errorf("decode message %s: %w", msg.UUID, ErrEmptyRecipient)
	}

	metadata := make(map[string]string, len(msg.Metadata))
	for key, value := range msg.Metadata {
		metadata[key] = value
	}

	return &Event{
		Topic:     topic,
		RequestID: msg.Metadata.Get("request_id"),
		Metadata:  metadata,
		Message:   addressed,
	}, nil
}
