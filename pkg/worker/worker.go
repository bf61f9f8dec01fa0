package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pullplatypus/internal"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Worker consumes queued notifications from a single topic and hands each
// one to its handler, at most concurrency at a time.
type Worker struct {
	subscriber  message.Subscriber
	topic       string
	handler     Handler
	codec       Codec
	retry       RetryPolicy
	logger      Logger
	concurrency int
	timeout     time.Duration
	middleware  []Middleware
	listeners   []Listener

	ready     chan struct{}
	readyOnce sync.Once
}

func New(opts ...Option) *Worker {
	w := &Worker{
		codec:       DefaultCodec{},
		retry:       DeliveryRetry{},
		logger:      stdLogger{},
		concurrency: 1,
		ready:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is canceled or the subscription closes. Messages
// already being delivered are allowed to finish.
func (w *Worker) Run(ctx context.Context) error {
	switch {
	case w.subscriber == nil:
		return errors.New("subscriber is required")
	case w.topic == "":
		return errors.New("topic is required")
	case w.handler == nil:
		return errors.New("sender is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs, err := w.subscriber.Subscribe(ctx, w.topic)
	if err != nil {
		w.emitError(ctx, nil, err)
		return fmt.Errorf("subscribe %s: %w", w.topic, err)
	}
	w.readyOnce.Do(func() { close(w.ready) })

	for _, l := range w.listeners {
		if l.OnStart != nil {
			l.OnStart(ctx)
		}
	}
	defer func() {
		for _, l := range w.listeners {
			if l.OnExit != nil {
				l.OnExit(ctx)
			}
		}
	}()

	handler := w.chain()
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				msg.Nack()
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				w.process(ctx, handler, msg)
			}()
		}
	}
}

// Ready is closed once Run has subscribed. Messages published to a
// non-persistent subscriber before then are lost.
func (w *Worker) Ready() <-chan struct{} {
	return w.ready
}

// Close closes the subscriber.
func (w *Worker) Close() error {
	if w.subscriber == nil {
		return nil
	}
	return w.subscriber.Close()
}

func (w *Worker) process(ctx context.Context, handler Handler, msg *message.Message) {
	evt, err := w.codec.Decode(w.topic, msg)
	if err != nil {
		w.logger.Printf("decode failed uuid=%s: %v", msg.UUID, err)
		w.emitError(ctx, nil, err)
		w.settle(ctx, msg, nil, err)
		return
	}

	// Shutdown must not abort a Slack call halfway.
	sendCtx := internal.ContextWithRequestID(context.WithoutCancel(ctx), evt.RequestID)
	if w.timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(sendCtx, w.timeout)
		defer cancel()
	}

	for _, l := range w.listeners {
		if l.OnMessageStart != nil {
			l.OnMessageStart(sendCtx, evt)
		}
	}
	err = handler(sendCtx, evt)
	for _, l := range w.listeners {
		if l.OnMessageFinish != nil {
			l.OnMessageFinish(sendCtx, evt, err)
		}
	}
	if err != nil {
		w.emitError(sendCtx, evt, err)
		w.settle(sendCtx, msg, evt, err)
		return
	}
	msg.Ack()
}

func (w *Worker) settle(ctx context.Context, msg *message.Message, evt *Event, err error) {
	if w.retry.OnError(ctx, evt, err) == Redeliver {
		msg.Nack()
		return
	}
	msg.Ack()
}

func (w *Worker) chain() Handler {
	h := w.handler
	for i := len(w.middleware) - 1; i >= 0; i-- {
		h = w.middleware[i](h)
	}
	return h
}

func (w *Worker) emitError(ctx context.Context, evt *Event, err error) {
	for _, l := range w.listeners {
		if l.OnError != nil {
			l.OnError(ctx, evt, err)
		}
	}
}
