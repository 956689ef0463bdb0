// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mfalkenberg/nexusd/internal/logging"
)

// Topics are JetStream streams; partition N of topic T is the subject
// "T.pN". A stream provisioned with explicit partition subjects gets one
// PartitionConsumer per subject; a stream with any other subject shape is
// treated as a single partition.

// PartitionSubject returns the subject carrying one partition of a topic.
func PartitionSubject(topic string, partition int) string {
	return fmt.Sprintf("%s.p%d", topic, partition)
}

// Client is the JetStream-backed implementation of Log and Producer.
type Client struct {
	nc          *nats.Conn
	js          jetstream.JetStream
	pollTimeout time.Duration
}

// ClientConfig holds broker connection settings.
type ClientConfig struct {
	URL           string
	PollTimeout   time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
}

// Connect dials the broker and initializes the JetStream context.
func Connect(cfg ClientConfig) (*Client, error) {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 500 * time.Millisecond
	}
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("broker connection lost")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("broker reconnected")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", cfg.URL, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("initialize jetstream: %w", err)
	}
	return &Client{nc: nc, js: js, pollTimeout: cfg.PollTimeout}, nil
}

// Partitions inspects the stream configuration for explicit partition
// subjects. Streams without them count as one partition.
func (c *Client) Partitions(ctx context.Context, topic string) ([]int, error) {
	stream, err := c.js.Stream(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("look up stream %q: %w", topic, err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("stream info for %q: %w", topic, err)
	}
	var ids []int
	prefix := topic + ".p"
	for _, subject := range info.Config.Subjects {
		var id int
		if strings.HasPrefix(subject, prefix) {
			if _, err := fmt.Sscanf(subject[len(prefix):], "%d", &id); err == nil {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		ids = []int{0}
	}
	return ids, nil
}

// Consumer creates an ephemeral pull consumer for one partition subject.
// The consumer delivers from the first record at or after start, which
// keeps a freshly started job from replaying the whole partition.
func (c *Client) Consumer(ctx context.Context, topic string, partition int, start time.Time) (PartitionConsumer, error) {
	cfg := jetstream.ConsumerConfig{
		FilterSubject:     PartitionSubject(topic, partition),
		AckPolicy:         jetstream.AckExplicitPolicy,
		InactiveThreshold: 5 * time.Minute,
	}
	if start.IsZero() {
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
	} else {
		cfg.DeliverPolicy = jetstream.DeliverByStartTimePolicy
		cfg.OptStartTime = &start
	}
	cons, err := c.js.CreateOrUpdateConsumer(ctx, topic, cfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer for %s/%d: %w", topic, partition, err)
	}
	return &jsPartitionConsumer{
		consumer:    cons,
		topic:       topic,
		partition:   partition,
		pollTimeout: c.pollTimeout,
	}, nil
}

// Publish sends one payload to partition 0 of a topic. Control-plane
// topics are single-partition; data producers address partitions
// explicitly with PublishToPartition.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	return c.PublishToPartition(ctx, topic, 0, payload)
}

// PublishToPartition sends one payload to a specific partition subject.
// The target stream must already capture the subject.
func (c *Client) PublishToPartition(ctx context.Context, topic string, partition int, payload []byte) error {
	subject := PartitionSubject(topic, partition)
	if _, err := c.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish to %q: %w", subject, err)
	}
	return nil
}

// EnsureStream provisions a stream with explicit partition subjects.
// Used by the embedded-broker path and the integration helpers.
func (c *Client) EnsureStream(ctx context.Context, topic string, partitions int) error {
	if partitions <= 0 {
		partitions = 1
	}
	subjects := make([]string, 0, partitions)
	for i := 0; i < partitions; i++ {
		subjects = append(subjects, PartitionSubject(topic, i))
	}
	_, err := c.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     topic,
		Subjects: subjects,
	})
	if err != nil && !errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("ensure stream %q: %w", topic, err)
	}
	return nil
}

// Conn exposes the underlying connection for the control-plane listener.
func (c *Client) Conn() *nats.Conn { return c.nc }

// Close drains and closes the broker connection.
func (c *Client) Close() error {
	return c.nc.Drain()
}

type jsPartitionConsumer struct {
	consumer    jetstream.Consumer
	topic       string
	partition   int
	pollTimeout time.Duration
	// atEnd is latched when the last delivered message reported zero
	// pending, so the next empty fetch maps to EndOfPartition.
	atEnd bool
}

func (p *jsPartitionConsumer) Poll(ctx context.Context) Polled {
	if err := ctx.Err(); err != nil {
		return Polled{Status: PollError, Err: err}
	}
	batch, err := p.consumer.Fetch(1, jetstream.FetchMaxWait(p.pollTimeout))
	if err != nil {
		return Polled{Status: PollError, Err: err}
	}
	for msg := range batch.Messages() {
		md, mdErr := msg.Metadata()
		if mdErr != nil {
			_ = msg.Nak()
			return Polled{Status: PollError, Err: mdErr}
		}
		if ackErr := msg.Ack(); ackErr != nil {
			logging.Warn().Err(ackErr).
				Str("topic", p.topic).Int("partition", p.partition).
				Msg("failed to ack message")
		}
		p.atEnd = md.NumPending == 0
		return Polled{
			Status: PollMessage,
			Msg: Message{
				Payload:   msg.Data(),
				Topic:     p.topic,
				Partition: p.partition,
				Offset:    int64(md.Sequence.Stream),
				Timestamp: md.Timestamp,
			},
		}
	}
	if fetchErr := batch.Error(); fetchErr != nil {
		if errors.Is(fetchErr, context.DeadlineExceeded) || errors.Is(fetchErr, nats.ErrTimeout) {
			return Polled{Status: PollTimedOut}
		}
		return Polled{Status: PollError, Err: fetchErr}
	}
	if p.atEnd {
		return Polled{Status: PollEndOfPartition}
	}
	info, infoErr := p.consumer.Info(ctx)
	if infoErr != nil {
		return Polled{Status: PollError, Err: infoErr}
	}
	if info.NumPending == 0 {
		p.atEnd = true
		return Polled{Status: PollEndOfPartition}
	}
	return Polled{Status: PollEmpty}
}

func (p *jsPartitionConsumer) Close() error {
	// Ephemeral consumers are reaped by the server once inactive.
	return nil
}
