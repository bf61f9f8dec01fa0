package worker

import (
	"strings"
	"time"

	"pullplatypus/pkg/delivery"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Option configures a Worker.
type Option func(*Worker)

func WithSubscriber(sub message.Subscriber) Option {
	return func(w *Worker) {
		w.subscriber = sub
	}
}

// WithTopic sets the notification topic to consume.
func WithTopic(topic string) Option {
	return func(w *Worker) {
		w.topic = strings.TrimSpace(topic)
	}
}

// WithSender delivers every decoded message through sender.
func WithSender(sender delivery.Sender) Option {
	return func(w *Worker) {
		if sender != nil {
			w.handler = SendHandler(sender)
		}
	}
}

// WithHandler replaces the delivery handler entirely.
func WithHandler(h Handler) Option {
	return func(w *Worker) {
		if h != nil {
			w.handler = h
		}
	}
}

func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithTimeout bounds each delivery. Zero means no bound beyond the sender's own.
func WithTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

func WithCodec(c Codec) Option {
	return func(w *Worker) {
		if c != nil {
			w.codec = c
		}
	}
}

func WithMiddleware(mw ...Middleware) Option {
	return func(w *Worker) {
		w.middleware = append(w.middleware, mw...)
	}
}

func WithRetry(policy RetryPolicy) Option {
	return func(w *Worker) {
		if policy != nil {
			w.retry = policy
		}
	}
}

func WithLogger(l Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

func WithListener(listener Listener) Option {
	return func(w *Worker) {
		w.listeners = append(w.listeners, listener)
	}
}
