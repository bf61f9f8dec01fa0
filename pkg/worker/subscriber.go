package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pullplatypus/internal"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	stan "github.com/nats-io/stan.go"
)

// BrokerDrivers are the publisher drivers another process can consume from.
var BrokerDrivers = []string{"amqp", "nats", "kafka", "sql"}

var (
	connectAttempts = 10
	connectDelay    = 2 * time.Second
)

// BuildSubscriber connects to every broker in drivers. More than one broker
// is merged into a single stream whose messages carry a "driver" metadata key.
func BuildSubscriber(cfg internal.WatermillConfig, drivers []string) (message.Subscriber, error) {
	logger := watermill.NewStdLogger(false, false)

	drivers = normalizeDrivers(drivers)
	if len(drivers) == 0 {
		return nil, errors.New("at least one broker driver is required")
	}
	for _, driver := range drivers {
		if !isBrokerDriver(driver) {
			return nil, fmt.Errorf("unsupported subscriber driver: %s", driver)
		}
	}

	if len(drivers) == 1 {
		return connect(logger, drivers[0], func() (message.Subscriber, error) {
			return newBrokerSubscriber(cfg, logger, drivers[0])
		})
	}

	merged := &fanInSubscriber{buffer: int(cfg.GoChannel.OutputChannelBuffer)}
	for _, driver := range drivers {
		sub, err := connect(logger, driver, func() (message.Subscriber, error) {
			return newBrokerSubscriber(cfg, logger, driver)
		})
		if err != nil {
			logger.Error("broker unavailable, continuing without it", err, watermill.LogFields{"driver": driver})
			continue
		}
		merged.subs = append(merged.subs, driverSubscriber{driver: driver, sub: sub})
	}
	if len(merged.subs) == 0 {
		return nil, fmt.Errorf("no broker reachable among %v", drivers)
	}
	return merged, nil
}

func newBrokerSubscriber(cfg internal.WatermillConfig, logger watermill.LoggerAdapter, driver string) (message.Subscriber, error) {
	switch driver {
	case "amqp":
		if cfg.AMQP.URL == "" {
			return nil, errors.New("amqp url is required")
		}
		amqpCfg, err := internal.AMQPPreset(cfg.AMQP.URL, cfg.AMQP.Mode)
		if err != nil {
			return nil, err
		}
		return wmamqp.NewSubscriber(amqpCfg, logger)
	case "nats":
		if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
			return nil, errors.New("nats cluster_id and client_id are required")
		}
		natsCfg := wmnats.StreamingSubscriberConfig{
			ClusterID:   cfg.NATS.ClusterID,
			ClientID:    cfg.NATS.ClientID + cfg.NATS.ClientIDSuffix,
			DurableName: cfg.NATS.Durable,
			Unmarshaler: wmnats.GobMarshaler{},
		}
		if cfg.NATS.URL != "" {
			natsCfg.StanOptions = append(natsCfg.StanOptions, stan.NatsURL(cfg.NATS.URL))
		}
		return wmnats.NewStreamingSubscriber(natsCfg, logger)
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, errors.New("kafka brokers are required")
		}
		return wmkafka.NewSubscriber(wmkafka.SubscriberConfig{
			Brokers:       cfg.Kafka.Brokers,
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
		}, nil, wmkafka.DefaultMarshaler{}, logger)
	case "sql":
		return newSQLSubscriber(cfg.SQL, logger)
	}
	return nil, fmt.Errorf("unsupported subscriber driver: %s", driver)
}

func newSQLSubscriber(cfg internal.SQLConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql driver and dsn are required")
	}
	schema, offsets, err := internal.SQLAdapters(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	sub, err := wmsql.NewSubscriber(db, wmsql.SubscriberConfig{
		ConsumerGroup:    cfg.ConsumerGroup,
		SchemaAdapter:    schema,
		OffsetsAdapter:   offsets,
		InitializeSchema: cfg.InitializeSchema || cfg.AutoInitializeSchema,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &dbSubscriber{Subscriber: sub, db: db}, nil
}

// connect retries build while the broker comes up.
func connect(logger watermill.LoggerAdapter, driver string, build func() (message.Subscriber, error)) (message.Subscriber, error) {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		sub, err := build()
		if err == nil {
			return sub, nil
		}
		lastErr = err
		logger.Info("subscriber connect failed", watermill.LogFields{
			"driver":  driver,
			"attempt": attempt,
			"error":   err.Error(),
		})
		if attempt < connectAttempts {
			time.Sleep(connectDelay)
		}
	}
	return nil, fmt.Errorf("connect %s: %w", driver, lastErr)
}

// dbSubscriber closes the database handle opened for a sql subscriber.
type dbSubscriber struct {
	message.Subscriber
	db *sql.DB
}

func (s *dbSubscriber) Close() error {
	return errors.Join(s.Subscriber.Close(), s.db.Close())
}

type driverSubscriber struct {
	driver string
	sub    message.Subscriber
}

type fanInSubscriber struct {
	subs   []driverSubscriber
	buffer int
}

func (f *fanInSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	channels := make([]<-chan *message.Message, 0, len(f.subs))
	for _, entry := range f.subs {
		ch, err := entry.sub.Subscribe(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s on %s: %w", topic, entry.driver, err)
		}
		channels = append(channels, ch)
	}

	buffer := f.buffer
	if buffer <= 0 {
		buffer = 64
	}
	out := make(chan *message.Message, buffer)

	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(driver string, ch <-chan *message.Message) {
			defer wg.Done()
			for msg := range ch {
				if msg.Metadata == nil {
					msg.Metadata = message.Metadata{}
				}
				msg.Metadata.Set("driver", driver)
				select {
				case out <- msg:
				case <-ctx.Done():
					msg.Nack()
					return
				}
			}
		}(f.subs[i].driver, ch)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (f *fanInSubscriber) Close() error {
	errs := make([]error, 0, len(f.subs))
	for _, entry := range f.subs {
		if err := entry.sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", entry.driver, err))
		}
	}
	return errors.Join(errs...)
}

func normalizeDrivers(drivers []string) []string {
	seen := make(map[string]bool, len(drivers))
	out := make([]string, 0, len(drivers))
	for _, driver := range drivers {
		driver = strings.ToLower(strings.TrimSpace(driver))
		if driver == "" || seen[driver] {
			continue
		}
		seen[driver] = true
		out = append(out, driver)
	}
	return out
}

func isBrokerDriver(driver string) bool {
	for _, candidate := range BrokerDrivers {
		if driver == candidate {
			return true
		}
	}
	return false
}
