package delivery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"pullplatypus/internal"
	"pullplatypus/pkg/notify"
)

// Sender delivers a single addressed message.
type Sender interface {
	Send(ctx context.Context, msg notify.AddressedMessage) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg notify.AddressedMessage) error

func (f SenderFunc) Send(ctx context.Context, msg notify.AddressedMessage) error {
	return f(ctx, msg)
}

// Result is the outcome of delivering one message.
type Result struct {
	Message notify.AddressedMessage
	Err     error
}

// Dispatcher delivers each message of a batch concurrently. Every message
// gets its own deadline and its own result; one failure does not cancel
// the others.
type Dispatcher struct {
	sender  Sender
	mode    string
	timeout time.Duration
	logger  *log.Logger
}

// NewDispatcher builds a Dispatcher. mode labels the delivery metrics.
func NewDispatcher(sender Sender, mode string, timeout time.Duration, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{sender: sender, mode: mode, timeout: timeout, logger: logger}
}

// Dispatch sends msgs and returns one Result per message, in input order.
// Deliveries outlive a cancelled parent context but not their own timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs []notify.AddressedMessage) []Result {
	results := make([]Result, len(msgs))
	if len(msgs) == 0 {
		return results
	}
	base := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i, msg := range msgs {
		results[i].Message = msg
		wg.Add(1)
		go func(i int, msg notify.AddressedMessage) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()

			internal.IncDelivery(d.mode)
			if err := d.sender.Send(sendCtx, msg); err != nil {
				internal.IncDeliveryError(d.mode)
				results[i].Err = fmt.Errorf("deliver to %s: %w", msg.Recipient, err)
				d.logger.Printf("delivery failed mode=%s recipient=%s: %v", d.mode, msg.Recipient, err)
			}
		}(i, msg)
	}
	wg.Wait()
	return results
}

// Err joins the failures in results, or returns nil when all succeeded.
func Err(results []Result) error {
	var err error
	for _, res := range results {
		if res.Err != nil {
			err = errors.Join(err, res.Err)
		}
	}
	return err
}
