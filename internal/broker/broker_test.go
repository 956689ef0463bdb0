// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package broker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemLogScriptedOutcomes(t *testing.T) {
	log := NewInMemLog()
	log.AddPartitions("T", 1)
	log.InjectMessage("T", 0, []byte("a"), time.UnixMilli(100))
	log.InjectStatus("T", 0, PollError)
	log.InjectMessage("T", 0, []byte("b"), time.UnixMilli(200))

	c, err := log.Consumer(context.Background(), "T", 0, time.Time{})
	if err != nil {
		t.Fatalf("Consumer: %v", err)
	}

	first := c.Poll(context.Background())
	if first.Status != PollMessage || string(first.Msg.Payload) != "a" {
		t.Fatalf("poll 1 = %v %q", first.Status, first.Msg.Payload)
	}
	if first.Msg.Offset != 0 {
		t.Errorf("offset = %d, want 0", first.Msg.Offset)
	}
	if second := c.Poll(context.Background()); second.Status != PollError {
		t.Fatalf("poll 2 = %v, want error", second.Status)
	}
	third := c.Poll(context.Background())
	if third.Status != PollMessage || string(third.Msg.Payload) != "b" {
		t.Fatalf("poll 3 = %v %q", third.Status, third.Msg.Payload)
	}
	if drained := c.Poll(context.Background()); drained.Status != PollEndOfPartition {
		t.Fatalf("drained poll = %v, want end_of_partition", drained.Status)
	}
}

func TestInMemLogDrainedStatusOverride(t *testing.T) {
	log := NewInMemLog()
	log.AddPartitions("T", 1)
	log.SetDrainedStatus(PollTimedOut)

	c, err := log.Consumer(context.Background(), "T", 0, time.Time{})
	if err != nil {
		t.Fatalf("Consumer: %v", err)
	}
	if got := c.Poll(context.Background()); got.Status != PollTimedOut {
		t.Fatalf("poll = %v, want timed_out", got.Status)
	}
}

func TestInMemLogUnknownTopic(t *testing.T) {
	log := NewInMemLog()
	if _, err := log.Consumer(context.Background(), "nope", 0, time.Time{}); err == nil {
		t.Fatal("expected error for unknown topic")
	}
	if _, err := log.Partitions(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown topic")
	}
}

func TestPartitionSubject(t *testing.T) {
	if got := PartitionSubject("detector_events", 3); got != "detector_events.p3" {
		t.Errorf("PartitionSubject = %q", got)
	}
}

func TestBreakerProducerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := NewInMemProducer()
	inner.FailWith(errors.New("broker down"))
	cfg := DefaultBreakerConfig("test")
	cfg.FailureThreshold = 3
	p := NewBreakerProducer(inner, cfg)

	for i := 0; i < 3; i++ {
		if err := p.Publish(context.Background(), "responses", []byte("x")); err == nil {
			t.Fatal("expected publish failure")
		}
	}
	if p.State() != "open" {
		t.Fatalf("breaker state = %q, want open", p.State())
	}

	// Open breaker fails fast without reaching the producer.
	inner.FailWith(nil)
	if err := p.Publish(context.Background(), "responses", []byte("x")); err == nil {
		t.Fatal("expected open-circuit failure")
	}
	if got := len(inner.Published("responses")); got != 0 {
		t.Errorf("payloads reached producer through open breaker: %d", got)
	}
}

func TestInMemJobPool(t *testing.T) {
	pool := NewInMemJobPool()
	if _, ok := pool.PollJob(context.Background()); ok {
		t.Fatal("empty pool returned a job")
	}
	pool.Offer([]byte("job"))
	payload, ok := pool.PollJob(context.Background())
	if !ok || string(payload) != "job" {
		t.Fatalf("PollJob = %q %v", payload, ok)
	}
	if err := pool.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	pool.Offer([]byte("late"))
	if _, ok := pool.PollJob(context.Background()); ok {
		t.Fatal("disconnected pool returned a job")
	}
}

func TestPollStatusString(t *testing.T) {
	cases := map[PollStatus]string{
		PollMessage:        "message",
		PollEmpty:          "empty",
		PollEndOfPartition: "end_of_partition",
		PollTimedOut:       "timed_out",
		PollError:          "error",
		PollStatus(99):     "unknown",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", status, got, want)
		}
	}
}
