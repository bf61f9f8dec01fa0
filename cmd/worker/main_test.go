package main

import (
	"testing"

	"pullplatypus/internal"
)

func TestSplitDrivers(t *testing.T) {
	river, brokers := splitDrivers(internal.WatermillConfig{Drivers: []string{"Kafka", "riverqueue", "gochannel", "http", "amqp"}})
	if !river {
		t.Fatalf("expected riverqueue to be detected")
	}
	if len(brokers) != 2 || brokers[0] != "kafka" || brokers[1] != "amqp" {
		t.Fatalf("unexpected brokers %v", brokers)
	}

	river, brokers = splitDrivers(internal.WatermillConfig{Driver: "gochannel"})
	if river || len(brokers) != 0 {
		t.Fatalf("expected nothing to consume for gochannel, got river=%v brokers=%v", river, brokers)
	}
}
