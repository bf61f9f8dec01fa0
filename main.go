package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"pullplatypus/internal"
	"pullplatypus/pkg/delivery"
	"pullplatypus/pkg/notify"
	"pullplatypus/pkg/slack"
	"pullplatypus/pkg/webhook"
	"pullplatypus/pkg/worker"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	store, err := internal.OpenParamStore(config, nil)
	if err != nil {
		logger.Fatalf("parameter store: %v", err)
	}
	if store != nil {
		defer store.Close()
	}
	settings, err := internal.ResolveSettings(ctx, config, store, nil)
	if err != nil {
		logger.Fatalf("settings: %v", err)
	}
	logger.Printf("identity map loaded entries=%d", settings.Identities.Len())

	filter, err := notify.NewCommentFilter(config.IgnoreComments)
	if err != nil {
		logger.Fatalf("compile ignore rules: %v", err)
	}

	slackClient, err := slack.NewClient(slack.Config{
		WebhookURL: settings.WebhookURL,
		Username:   config.Slack.Username,
		Timeout:    millis(config.Slack.TimeoutMS),
		RetryMax:   config.Slack.RetryMax,
		Logger:     internal.NewLogger("slack"),
	})
	if err != nil {
		logger.Fatalf("slack client: %v", err)
	}

	var sender delivery.Sender = slackClient
	if config.Delivery.Mode == internal.DeliveryQueue {
		queueSender, closeQueue, err := startQueue(ctx, config, slackClient, logger)
		if err != nil {
			logger.Fatalf("queue delivery: %v", err)
		}
		defer closeQueue()
		sender = queueSender
	}

	handler, err := webhook.NewBitbucketServerHandler(
		settings.Secret,
		notify.NewExtractor(filter),
		notify.NewRouter(settings.Identities),
		delivery.NewDispatcher(sender, config.Delivery.Mode, millis(config.Delivery.TimeoutMS), logger),
		logger,
		config.Server.MaxBodyBytes,
	)
	if err != nil {
		logger.Fatalf("bitbucket server handler: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle(config.Bitbucket.Path, internal.NewRateLimitHandler(handler, config.Server.RateLimitRPS, config.Server.RateLimitBurst, 0))
	logger.Printf("bitbucket server webhook enabled on %s delivery=%s", config.Bitbucket.Path, config.Delivery.Mode)
	if config.Server.MetricsEnabled {
		mux.Handle(config.Server.MetricsPath, expvar.Handler())
		logger.Printf("metrics enabled on %s", config.Server.MetricsPath)
	}

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       millis(config.Server.ReadTimeoutMS),
		WriteTimeout:      millis(config.Server.WriteTimeoutMS),
		IdleTimeout:       millis(config.Server.IdleTimeoutMS),
		ReadHeaderTimeout: millis(config.Server.ReadHeaderMS),
	}

	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}

// startQueue builds the publisher behind queue delivery. When gochannel is
// one of the drivers the worker runs in this process, since nothing else
// can subscribe to it.
func startQueue(ctx context.Context, config internal.Config, slackClient *slack.Client, logger *log.Logger) (delivery.Sender, func(), error) {
	var pubSub *gochannel.GoChannel
	if slices.Contains(internal.ConfiguredDrivers(config.Watermill), "gochannel") {
		pubSub = gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            config.Watermill.GoChannel.OutputChannelBuffer,
			Persistent:                     config.Watermill.GoChannel.Persistent,
			BlockPublishUntilSubscriberAck: config.Watermill.GoChannel.BlockPublishUntilSubscriberAck,
		}, watermill.NewStdLogger(false, false))
		internal.UseGoChannel(pubSub)
	}

	publisher, err := internal.NewPublisher(config.Watermill)
	if err != nil {
		return nil, nil, err
	}
	queueSender, err := delivery.NewQueueSender(publisher, config.Delivery.Topic, config.Delivery.Drivers)
	if err != nil {
		_ = publisher.Close()
		return nil, nil, err
	}

	done := make(chan struct{})
	if pubSub != nil {
		workerLogger := internal.NewLogger("worker")
		wk := worker.New(
			worker.WithSubscriber(pubSub),
			worker.WithTopic(config.Delivery.Topic),
			worker.WithSender(slackClient),
			worker.WithConcurrency(config.Delivery.Concurrency),
			worker.WithTimeout(millis(config.Delivery.TimeoutMS)),
			worker.WithLogger(workerLogger),
			worker.WithListener(worker.LogListener(workerLogger, "worker")),
		)
		runErr := make(chan error, 1)
		go func() {
			defer close(done)
			runErr <- wk.Run(ctx)
		}()
		// The server must not accept webhooks until the topic has a subscriber.
		select {
		case <-wk.Ready():
			go func() {
				if err := <-runErr; err != nil {
					logger.Printf("in-process worker: %v", err)
				}
			}()
		case err := <-runErr:
			_ = publisher.Close()
			if err == nil {
				err = errors.New("in-process worker stopped before subscribing")
			}
			return nil, nil, fmt.Errorf("in-process worker: %w", err)
		}
	} else {
		close(done)
	}

	closeFn := func() {
		if err := publisher.Close(); err != nil {
			logger.Printf("publisher close: %v", err)
		}
		<-done
	}
	return queueSender, closeFn, nil
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
