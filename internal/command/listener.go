// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package command implements the control plane: polling the command and
// job-pool topics, staged validation of start/stop commands, and typed
// response publishing.
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/mfalkenberg/nexusd/internal/broker"
)

// Listener supplies control-topic payloads to the handler, one per poll.
type Listener interface {
	// PollCommand returns the next command payload, or ok == false when
	// none is pending.
	PollCommand(ctx context.Context) (payload []byte, ok bool)
}

// topicListener adapts a partition consumer on the command topic to the
// Listener contract. Control topics are single-partition.
type topicListener struct {
	consumer broker.PartitionConsumer
}

// NewTopicListener subscribes to partition 0 of a control topic,
// starting at the current log end (commands predating this service
// instance are not replayed).
func NewTopicListener(ctx context.Context, log broker.Log, topic string) (Listener, error) {
	consumer, err := log.Consumer(ctx, topic, 0, time.Now())
	if err != nil {
		return nil, fmt.Errorf("subscribe to control topic %q: %w", topic, err)
	}
	return &topicListener{consumer: consumer}, nil
}

// PollCommand implements Listener. Non-message outcomes map to "nothing
// pending"; the command plane has no use for partition-level states.
func (l *topicListener) PollCommand(ctx context.Context) ([]byte, bool) {
	polled := l.consumer.Poll(ctx)
	if polled.Status != broker.PollMessage {
		return nil, false
	}
	return polled.Msg.Payload, true
}

// QueueListener is an in-memory Listener fed by Push; test
// infrastructure shared by the command and master tests.
type QueueListener struct {
	pending [][]byte
}

// NewQueueListener returns an empty QueueListener.
func NewQueueListener() *QueueListener { return &QueueListener{} }

// Push enqueues one command payload.
func (q *QueueListener) Push(payload []byte) { q.pending = append(q.pending, payload) }

// PollCommand implements Listener.
func (q *QueueListener) PollCommand(context.Context) ([]byte, bool) {
	if len(q.pending) == 0 {
		return nil, false
	}
	payload := q.pending[0]
	q.pending = q.pending[1:]
	return payload, true
}
