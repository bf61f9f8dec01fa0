package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pullplatypus/pkg/notify"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Publisher puts addressed messages on a queue for the notification worker.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg notify.AddressedMessage) error
	// PublishForDrivers publishes through the named drivers only. An empty
	// list means every driver.
	PublishForDrivers(ctx context.Context, topic string, msg notify.AddressedMessage, drivers []string) error
	Close() error
}

// NewPublisher builds one publisher per configured driver. Drivers that fail
// to build are logged and skipped; it is an error only if none succeed.
func NewPublisher(cfg WatermillConfig) (Publisher, error) {
	logger := watermill.NewStdLogger(false, false)

	mux := &publisherMux{publishers: make(map[string]Publisher)}
	for _, driver := range ConfiguredDrivers(cfg) {
		pub, err := newDriverPublisher(cfg, logger, driver)
		if err != nil {
			logger.Error("publisher init failed, skipping driver", err, watermill.LogFields{"driver": driver})
			continue
		}
		mux.publishers[driver] = pub
		mux.order = append(mux.order, driver)
	}
	if len(mux.order) == 0 {
		return nil, errors.New("no publishers available")
	}
	return mux, nil
}

// ConfiguredDrivers lists the publisher drivers named by cfg, lowercased and
// deduplicated. drivers wins over driver; gochannel is the fallback.
func ConfiguredDrivers(cfg WatermillConfig) []string {
	names := cfg.Drivers
	if len(names) == 0 {
		names = []string{cfg.Driver}
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	if len(out) == 0 {
		out = append(out, "gochannel")
	}
	return out
}

func newDriverPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter, driver string) (Publisher, error) {
	if driver == "riverqueue" {
		return newRiverQueuePublisher(cfg.RiverQueue)
	}
	build, ok := publisherDrivers[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported watermill driver: %s", driver)
	}
	pub, closeFn, err := build(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", driver, err)
	}
	return &brokerPublisher{publisher: pub, closeFn: closeFn, retry: cfg.PublishRetry}, nil
}

// brokerPublisher publishes notifications through a watermill publisher.
type brokerPublisher struct {
	publisher message.Publisher
	closeFn   func() error
	retry     PublishRetryConfig
}

// Publish sends msg as JSON with recipient and request_id metadata, retrying
// per the publish_retry settings.
func (b *brokerPublisher) Publish(ctx context.Context, topic string, msg notify.AddressedMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	attempts := max(b.retry.Attempts, 1)
	delay := time.Duration(b.retry.DelayMS) * time.Millisecond

	var lastErr error
	for attempt := 1; ; attempt++ {
		if lastErr = b.publisher.Publish(topic, notificationMessage(ctx, payload, msg.Recipient)); lastErr == nil {
			return nil
		}
		if attempt >= attempts {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (b *brokerPublisher) PublishForDrivers(ctx context.Context, topic string, msg notify.AddressedMessage, _ []string) error {
	return b.Publish(ctx, topic, msg)
}

func (b *brokerPublisher) Close() error {
	err := b.publisher.Close()
	if b.closeFn != nil {
		err = errors.Join(err, b.closeFn())
	}
	return err
}

// Every attempt gets a fresh message: brokers may keep state keyed by UUID.
func notificationMessage(ctx context.Context, payload []byte, recipient string) *message.Message {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("recipient", recipient)
	if id := RequestIDFromContext(ctx); id != "" {
		msg.Metadata.Set("request_id", id)
	}
	msg.SetContext(ctx)
	return msg
}

type publisherMux struct {
	publishers map[string]Publisher
	order      []string
}

func (m *publisherMux) Publish(ctx context.Context, topic string, msg notify.AddressedMessage) error {
	return m.PublishForDrivers(ctx, topic, msg, nil)
}

func (m *publisherMux) PublishForDrivers(ctx context.Context, topic string, msg notify.AddressedMessage, drivers []string) error {
	if len(drivers) == 0 {
		drivers = m.order
	}
	var errs []error
	for _, driver := range drivers {
		driver = strings.ToLower(driver)
		pub, ok := m.publishers[driver]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown driver %s", driver))
			continue
		}
		if err := pub.Publish(ctx, topic, msg); err != nil {
			IncDeliveryError(driver)
			errs = append(errs, fmt.Errorf("publish via %s: %w", driver, err))
		}
	}
	return errors.Join(errs...)
}

func (m *publisherMux) Close() error {
	var errs []error
	for _, driver := range m.order {
		errs = append(errs, m.publishers[driver].Close())
	}
	return errors.Join(errs...)
}
