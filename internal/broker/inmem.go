// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemLog is an in-process message log for tests and dry runs. Poll
// outcomes can be scripted per partition, which is how the partition
// state-machine tests inject Error and TimedOut sequences.
type InMemLog struct {
	mu     sync.Mutex
	topics map[string]*memTopic
	// drainedStatus is returned once a partition's scripted entries are
	// exhausted. Defaults to PollEndOfPartition.
	drainedStatus PollStatus
}

type memTopic struct {
	partitions map[int][]Polled
}

// NewInMemLog returns an empty in-memory log.
func NewInMemLog() *InMemLog {
	return &InMemLog{
		topics:        make(map[string]*memTopic),
		drainedStatus: PollEndOfPartition,
	}
}

// SetDrainedStatus changes the outcome of polls past the scripted end.
func (l *InMemLog) SetDrainedStatus(status PollStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drainedStatus = status
}

// AddPartitions declares a topic with n empty partitions.
func (l *InMemLog) AddPartitions(topic string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.topic(topic)
	for i := 0; i < n; i++ {
		if _, ok := t.partitions[i]; !ok {
			t.partitions[i] = nil
		}
	}
}

// must be called with mu held.
func (l *InMemLog) topic(name string) *memTopic {
	t, ok := l.topics[name]
	if !ok {
		t = &memTopic{partitions: make(map[int][]Polled)}
		l.topics[name] = t
	}
	return t
}

// InjectMessage appends one message to a partition's script.
func (l *InMemLog) InjectMessage(topic string, partition int, payload []byte, ts time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.topic(topic)
	offset := int64(len(t.partitions[partition]))
	t.partitions[partition] = append(t.partitions[partition], Polled{
		Status: PollMessage,
		Msg: Message{
			Payload:   payload,
			Topic:     topic,
			Partition: partition,
			Offset:    offset,
			Timestamp: ts,
		},
	})
}

// InjectStatus appends a non-message poll outcome to a partition's script.
func (l *InMemLog) InjectStatus(topic string, partition int, status PollStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.topic(topic)
	t.partitions[partition] = append(t.partitions[partition], Polled{Status: status})
}

// Partitions implements Log.
func (l *InMemLog) Partitions(_ context.Context, topic string) ([]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.topics[topic]
	if !ok {
		return nil, fmt.Errorf("unknown topic %q", topic)
	}
	ids := make([]int, 0, len(t.partitions))
	for id := range t.partitions {
		ids = append(ids, id)
	}
	return ids, nil
}

// Consumer implements Log. The start time is ignored; scripted entries
// replay in injection order.
func (l *InMemLog) Consumer(_ context.Context, topic string, partition int, _ time.Time) (PartitionConsumer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.topics[topic]
	if !ok {
		return nil, fmt.Errorf("unknown topic %q", topic)
	}
	if _, ok := t.partitions[partition]; !ok {
		return nil, fmt.Errorf("unknown partition %d of topic %q", partition, topic)
	}
	return &memConsumer{log: l, topic: topic, partition: partition}, nil
}

type memConsumer struct {
	log       *InMemLog
	topic     string
	partition int
	pos       int
}

func (c *memConsumer) Poll(ctx context.Context) Polled {
	if err := ctx.Err(); err != nil {
		return Polled{Status: PollError, Err: err}
	}
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	script := c.log.topics[c.topic].partitions[c.partition]
	if c.pos >= len(script) {
		return Polled{Status: c.log.drainedStatus}
	}
	polled := script[c.pos]
	c.pos++
	return polled
}

func (c *memConsumer) Close() error { return nil }

// InMemProducer records published payloads for assertions.
type InMemProducer struct {
	mu        sync.Mutex
	published map[string][][]byte
	failWith  error
}

// NewInMemProducer returns an empty capture producer.
func NewInMemProducer() *InMemProducer {
	return &InMemProducer{published: make(map[string][][]byte)}
}

// FailWith makes every subsequent Publish return err (nil to reset).
func (p *InMemProducer) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Publish implements Producer.
func (p *InMemProducer) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	p.published[topic] = append(p.published[topic], cp)
	return nil
}

// Close implements Producer.
func (p *InMemProducer) Close() error { return nil }

// Published returns all payloads published to a topic.
func (p *InMemProducer) Published(topic string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.published[topic]))
	copy(out, p.published[topic])
	return out
}

// InMemJobPool is a scriptable JobListener.
type InMemJobPool struct {
	mu           sync.Mutex
	pending      [][]byte
	disconnected bool
}

// NewInMemJobPool returns an empty pool.
func NewInMemJobPool() *InMemJobPool { return &InMemJobPool{} }

// Offer queues a pool message for the next PollJob.
func (p *InMemJobPool) Offer(payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, payload)
}

// PollJob implements JobListener.
func (p *InMemJobPool) PollJob(_ context.Context) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disconnected || len(p.pending) == 0 {
		return nil, false
	}
	payload := p.pending[0]
	p.pending = p.pending[1:]
	return payload, true
}

// Disconnect implements JobListener.
func (p *InMemJobPool) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = true
	return nil
}

// Disconnected reports whether Disconnect was called.
func (p *InMemJobPool) Disconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnected
}
