// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package broker

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// startEmbeddedServer runs a JetStream-enabled broker on an ephemeral
// port for the integration tests.
func startEmbeddedServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("create embedded broker: %v", err)
	}
	srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		t.Fatal("embedded broker did not become ready")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func connectTestClient(t *testing.T, srv *natsserver.Server) *Client {
	t.Helper()
	client, err := Connect(ClientConfig{
		URL:         srv.ClientURL(),
		PollTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestJetStreamPollContract(t *testing.T) {
	if testing.Short() {
		t.Skip("embedded broker test skipped in short mode")
	}
	srv := startEmbeddedServer(t)
	client := connectTestClient(t, srv)
	ctx := context.Background()

	if err := client.EnsureStream(ctx, "beam_monitor", 2); err != nil {
		t.Fatalf("EnsureStream: %v", err)
	}
	// EnsureStream is idempotent.
	if err := client.EnsureStream(ctx, "beam_monitor", 2); err != nil {
		t.Fatalf("second EnsureStream: %v", err)
	}

	partitions, err := client.Partitions(ctx, "beam_monitor")
	if err != nil {
		t.Fatalf("Partitions: %v", err)
	}
	if len(partitions) != 2 {
		t.Fatalf("partitions = %v", partitions)
	}

	if err := client.PublishToPartition(ctx, "beam_monitor", 0, []byte("one")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := client.PublishToPartition(ctx, "beam_monitor", 1, []byte("other")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	consumer, err := client.Consumer(ctx, "beam_monitor", 0, time.Time{})
	if err != nil {
		t.Fatalf("Consumer: %v", err)
	}
	defer consumer.Close()

	polled := consumer.Poll(ctx)
	if polled.Status != PollMessage {
		t.Fatalf("poll = %v (%v)", polled.Status, polled.Err)
	}
	if string(polled.Msg.Payload) != "one" {
		t.Errorf("payload = %q; partition isolation broken", polled.Msg.Payload)
	}
	if polled.Msg.Topic != "beam_monitor" || polled.Msg.Partition != 0 {
		t.Errorf("message metadata = %+v", polled.Msg)
	}
	if polled.Msg.Timestamp.IsZero() {
		t.Error("broker timestamp missing")
	}

	// The partition is drained now.
	drained := consumer.Poll(ctx)
	if drained.Status != PollEndOfPartition && drained.Status != PollTimedOut {
		t.Fatalf("drained poll = %v (%v)", drained.Status, drained.Err)
	}

	// A new message revives the partition.
	if err := client.PublishToPartition(ctx, "beam_monitor", 0, []byte("two")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		polled = consumer.Poll(ctx)
		if polled.Status == PollMessage {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("second message never arrived: %v (%v)", polled.Status, polled.Err)
		}
	}
	if string(polled.Msg.Payload) != "two" {
		t.Errorf("payload = %q", polled.Msg.Payload)
	}
}

func TestJetStreamControlPlanePublish(t *testing.T) {
	if testing.Short() {
		t.Skip("embedded broker test skipped in short mode")
	}
	srv := startEmbeddedServer(t)
	client := connectTestClient(t, srv)
	ctx := context.Background()

	if err := client.EnsureStream(ctx, "nexusd_commands", 1); err != nil {
		t.Fatalf("EnsureStream: %v", err)
	}
	if err := client.Publish(ctx, "nexusd_commands", []byte("response")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	consumer, err := client.Consumer(ctx, "nexusd_commands", 0, time.Time{})
	if err != nil {
		t.Fatalf("Consumer: %v", err)
	}
	defer consumer.Close()
	polled := consumer.Poll(ctx)
	if polled.Status != PollMessage || string(polled.Msg.Payload) != "response" {
		t.Fatalf("poll = %v %q", polled.Status, polled.Msg.Payload)
	}
}
