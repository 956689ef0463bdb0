// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package broker defines the message-log contract nexusd consumes and
// produces against, plus the NATS JetStream implementation and an
// in-memory implementation for tests.
//
// A topic is an ordered, partitioned log. Each partition is consumed by
// exactly one PartitionConsumer, whose Poll returns one of five outcomes
// (Message, Empty, EndOfPartition, TimedOut, Error). The stream layer
// builds its partition state machine on top of that contract and never
// touches the broker client directly.
package broker

import (
	"context"
	"time"
)

// PollStatus is the outcome of a single poll on a partition consumer.
type PollStatus int

const (
	// PollMessage means a message was received; Polled.Msg is valid.
	PollMessage PollStatus = iota
	// PollEmpty means the partition had nothing to deliver right now.
	PollEmpty
	// PollEndOfPartition means the consumer has caught up with the log end.
	PollEndOfPartition
	// PollTimedOut means the poll deadline expired before anything arrived.
	PollTimedOut
	// PollError means the poll failed.
	PollError
)

// String implements fmt.Stringer for log output.
func (s PollStatus) String() string {
	switch s {
	case PollMessage:
		return "message"
	case PollEmpty:
		return "empty"
	case PollEndOfPartition:
		return "end_of_partition"
	case PollTimedOut:
		return "timed_out"
	case PollError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is one record polled off a partition.
type Message struct {
	Payload   []byte
	Topic     string
	Partition int
	Offset    int64
	// Timestamp is the broker-assigned receive time of the record. The
	// data-plane time filter uses the producer timestamp embedded in the
	// payload instead; this one is kept for diagnostics.
	Timestamp time.Time
}

// Polled couples a poll outcome with the message, if any.
type Polled struct {
	Status PollStatus
	Msg    Message
	Err    error
}

// PartitionConsumer consumes a single partition of a topic. At most one
// goroutine may call Poll.
type PartitionConsumer interface {
	// Poll blocks up to the consumer's poll timeout and reports the outcome.
	Poll(ctx context.Context) Polled
	Close() error
}

// Log is the consumer-side view of the message log.
type Log interface {
	// Partitions reports the partition ids of a topic.
	Partitions(ctx context.Context, topic string) ([]int, error)
	// Consumer creates a consumer for one partition, delivering messages
	// with broker timestamps at or after start.
	Consumer(ctx context.Context, topic string, partition int, start time.Time) (PartitionConsumer, error)
}

// Producer publishes opaque payloads to a topic. Used for command
// responses and status reports.
type Producer interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// JobListener receives messages from the shared job pool. One message is
// delivered to exactly one service across the pool (first to claim wins).
type JobListener interface {
	// PollJob returns the next claimed pool message, or ok == false when
	// none is pending.
	PollJob(ctx context.Context) (payload []byte, ok bool)
	// Disconnect leaves the pool so no further jobs are claimed. Safe to
	// call more than once.
	Disconnect() error
}
