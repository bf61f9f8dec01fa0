package worker

import "pullplatypus/pkg/notify"

// Event is a queued notification received by the worker.
type Event struct {
	// Topic is the name of the topic the message was received on.
	Topic string `json:"topic"`
	// RequestID links the notification to the webhook request that produced it.
	RequestID string `json:"request_id,omitempty"`
	// Metadata contains message-broker-specific metadata.
	Metadata map[string]string `json:"metadata"`
	// Message is the addressed Slack message to deliver.
	Message notify.AddressedMessage `json:"message"`
}
