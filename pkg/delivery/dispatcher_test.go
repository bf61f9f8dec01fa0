package delivery

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"pullplatypus/pkg/notify"
)

var quiet = log.New(io.Discard, "", 0)

func messages(recipients ...string) []notify.AddressedMessage {
	out := make([]notify.AddressedMessage, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, notify.AddressedMessage{Recipient: r, Text: "hello " + r})
	}
	return out
}

// TestDispatchIndependentFailures tests that one failed delivery does not stop the others.
func TestDispatchIndependentFailures(t *testing.T) {
	var mu sync.Mutex
	delivered := map[string]bool{}
	sender := SenderFunc(func(ctx context.Context, msg notify.AddressedMessage) error {
		if msg.Recipient == "bob" {
			return errors.New("slack said no")
		}
		mu.Lock()
		delivered[msg.Recipient] = true
		mu.Unlock()
		return nil
	})

	d := NewDispatcher(sender, "test", time.Second, quiet)
	results := d.Dispatch(context.Background(), messages("alice", "bob", "carol"))

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, want := range []string{"alice", "bob", "carol"} {
		if results[i].Message.Recipient != want {
			t.Fatalf("result %d: expected %s, got %s", i, want, results[i].Message.Recipient)
		}
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("expected alice and carol to succeed: %v / %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil || !strings.Contains(results[1].Err.Error(), "bob") {
		t.Fatalf("expected bob failure naming the recipient, got %v", results[1].Err)
	}
	if !delivered["alice"] || !delivered["carol"] {
		t.Fatalf("expected alice and carol delivered, got %v", delivered)
	}

	err := Err(results)
	if err == nil || !strings.Contains(err.Error(), "slack said no") {
		t.Fatalf("expected joined error, got %v", err)
	}
}

// TestDispatchPerMessageTimeout tests that a slow delivery times out on its own.
func TestDispatchPerMessageTimeout(t *testing.T) {
	sender := SenderFunc(func(ctx context.Context, msg notify.AddressedMessage) error {
		if msg.Recipient == "slow" {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	d := NewDispatcher(sender, "test", 20*time.Millisecond, quiet)
	results := d.Dispatch(context.Background(), messages("fast", "slow"))

	if results[0].Err != nil {
		t.Fatalf("expected fast delivery to succeed, got %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded for slow delivery, got %v", results[1].Err)
	}
}

func TestDispatchIgnoresParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sender := SenderFunc(func(ctx context.Context, msg notify.AddressedMessage) error {
		return ctx.Err()
	})
	results := NewDispatcher(sender, "test", time.Second, quiet).Dispatch(ctx, messages("alice"))
	if results[0].Err != nil {
		t.Fatalf("expected delivery to run despite cancelled request, got %v", results[0].Err)
	}
}

func TestDispatchEmpty(t *testing.T) {
	called := false
	sender := SenderFunc(func(ctx context.Context, msg notify.AddressedMessage) error {
		called = true
		return nil
	})
	results := NewDispatcher(sender, "test", time.Second, quiet).Dispatch(context.Background(), nil)
	if len(results) != 0 || called {
		t.Fatalf("expected no deliveries, got %d results called=%v", len(results), called)
	}
	if Err(results) != nil {
		t.Fatalf("expected nil error for empty batch")
	}
}
