package main

import (
	"context"
	"flag"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"pullplatypus/internal"
	"pullplatypus/pkg/slack"
	"pullplatypus/pkg/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to app config")
	flag.Parse()

	logger := internal.NewLogger("worker")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	store, err := internal.OpenParamStore(config, nil)
	if err != nil {
		logger.Fatalf("parameter store: %v", err)
	}
	webhookURL, err := internal.ResolveWebhookURL(ctx, config, store, nil)
	if store != nil {
		_ = store.Close()
	}
	if err != nil {
		logger.Fatalf("settings: %v", err)
	}

	slackClient, err := slack.NewClient(slack.Config{
		WebhookURL: webhookURL,
		Username:   config.Slack.Username,
		Timeout:    time.Duration(config.Slack.TimeoutMS) * time.Millisecond,
		RetryMax:   config.Slack.RetryMax,
		Logger:     internal.NewLogger("slack"),
	})
	if err != nil {
		logger.Fatalf("slack client: %v", err)
	}

	river, brokers := splitDrivers(config.Watermill)
	if !river && len(brokers) == 0 {
		logger.Fatalf("no out-of-process queue driver configured; gochannel and http deliveries are handled by the server")
	}

	if river {
		runner, err := worker.NewRiverRunner(ctx, config.Watermill.RiverQueue, slackClient, logger)
		if err != nil {
			logger.Fatalf("river: %v", err)
		}
		if err := runner.Start(ctx); err != nil {
			logger.Fatalf("river start: %v", err)
		}
		logger.Printf("river worker started queue=%s kind=%s", config.Watermill.RiverQueue.Queue, config.Watermill.RiverQueue.Kind)
		defer func() {
			stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelStop()
			if err := runner.Stop(stopCtx); err != nil {
				logger.Printf("river stop: %v", err)
			}
		}()
	}

	if len(brokers) == 0 {
		<-ctx.Done()
		return
	}

	sub, err := worker.BuildSubscriber(config.Watermill, brokers)
	if err != nil {
		logger.Fatalf("subscriber: %v", err)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			logger.Printf("subscriber close: %v", err)
		}
	}()

	wk := worker.New(
		worker.WithSubscriber(sub),
		worker.WithTopic(config.Delivery.Topic),
		worker.WithSender(slackClient),
		worker.WithConcurrency(config.Delivery.Concurrency),
		worker.WithTimeout(time.Duration(config.Delivery.TimeoutMS)*time.Millisecond),
		worker.WithLogger(logger),
		worker.WithListener(worker.LogListener(logger, "worker")),
	)

	logger.Printf("watermill worker started drivers=%v topic=%s", brokers, config.Delivery.Topic)
	if err := wk.Run(ctx); err != nil {
		logger.Printf("worker: %v", err)
	}
}

// splitDrivers separates the river queue from brokers a watermill subscriber
// can consume from another process.
func splitDrivers(cfg internal.WatermillConfig) (bool, []string) {
	river := false
	var brokers []string
	for _, driver := range internal.ConfiguredDrivers(cfg) {
		if driver == "riverqueue" {
			river = true
			continue
		}
		if slices.Contains(worker.BrokerDrivers, driver) {
			brokers = append(brokers, driver)
		}
	}
	return river, brokers
}
