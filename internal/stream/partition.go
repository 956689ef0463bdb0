// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package stream

import (
	"context"
	"sync"
	"time"

	"github.com/mfalkenberg/nexusd/internal/broker"
	"github.com/mfalkenberg/nexusd/internal/logging"
	"github.com/mfalkenberg/nexusd/internal/metrics"
	"github.com/mfalkenberg/nexusd/internal/wire"
)

// FilterConfig holds the time-gating and backoff parameters of a
// partition stream.
type FilterConfig struct {
	// Start is the admission-window start.
	Start time.Time
	// Stop is the admission-window end; zero means "never".
	Stop time.Time
	// StopLeeway is extra wall-clock grace past Stop during which
	// late-arriving in-window messages are still caught up.
	StopLeeway time.Duration
	// ErrorTimeout is the wall-clock budget of a latched error run
	// before the partition removes itself.
	ErrorTimeout time.Duration
	// BeforeStartAllowance admits messages slightly older than Start.
	BeforeStartAllowance time.Duration
	// AfterStopAllowance admits messages slightly newer than Stop.
	AfterStopAllowance time.Duration
}

// PartitionStream is the poll state machine of one (topic, partition).
// At most one goroutine (the controller loop) calls Poll.
//
// A TimedOut outcome is treated as benign and does not latch the error
// clock; only Error does. A fetch timeout is the normal idle state of a
// pull consumer on a quiet topic.
type PartitionStream struct {
	topic     string
	partition int
	consumer  broker.PartitionConsumer
	demux     *Demux

	mu     sync.Mutex
	filter FilterConfig

	hasError  bool
	errorTime time.Time
	completed bool

	// now is the clock; replaced in tests.
	now func() time.Time
}

// NewPartitionStream wires a consumer to a demultiplexer under a filter.
func NewPartitionStream(topic string, partition int, consumer broker.PartitionConsumer, demux *Demux, filter FilterConfig) *PartitionStream {
	metrics.PartitionsActive.WithLabelValues(topic).Inc()
	return &PartitionStream{
		topic:     topic,
		partition: partition,
		consumer:  consumer,
		demux:     demux,
		filter:    filter,
		now:       time.Now,
	}
}

// Topic returns the partition's topic.
func (p *PartitionStream) Topic() string { return p.topic }

// Partition returns the partition id.
func (p *PartitionStream) Partition() int { return p.partition }

// SetStopTime updates the admission-window end.
func (p *PartitionStream) SetStopTime(stop time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filter.Stop = stop
}

// Completed reports whether the partition finished (drained past
// stop+leeway or removed after a persistent error run).
func (p *PartitionStream) Completed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// Close releases the consumer.
func (p *PartitionStream) Close() error {
	metrics.PartitionsActive.WithLabelValues(p.topic).Dec()
	return p.consumer.Close()
}

// Poll performs one poll and advances the state machine. It returns the
// poll status so the controller can budget its topic loop.
func (p *PartitionStream) Poll(ctx context.Context) broker.PollStatus {
	polled := p.consumer.Poll(ctx)
	switch polled.Status {
	case broker.PollMessage:
		p.clearError()
		p.processMessage(polled.Msg)
	case broker.PollEmpty, broker.PollTimedOut:
		p.clearError()
	case broker.PollEndOfPartition:
		p.clearError()
		p.mu.Lock()
		if !p.filter.Stop.IsZero() && p.now().After(p.filter.Stop.Add(p.filter.StopLeeway)) {
			p.completed = true
		}
		p.mu.Unlock()
	case broker.PollError:
		metrics.PartitionErrors.WithLabelValues(p.topic).Inc()
		p.mu.Lock()
		if !p.hasError {
			p.hasError = true
			p.errorTime = p.now()
		} else if p.now().Sub(p.errorTime) > p.filter.ErrorTimeout {
			p.completed = true
			logging.Warn().Err(polled.Err).
				Str("topic", p.topic).
				Int("partition", p.partition).
				Dur("error_timeout", p.filter.ErrorTimeout).
				Msg("removing partition after persistent errors")
		}
		p.mu.Unlock()
	}
	return polled.Status
}

func (p *PartitionStream) clearError() {
	p.mu.Lock()
	p.hasError = false
	p.mu.Unlock()
}

// processMessage applies the time filter and hands admitted messages to
// the demultiplexer.
func (p *PartitionStream) processMessage(msg broker.Message) {
	key, ts, err := wire.Extract(msg.Payload)
	if err != nil {
		p.demux.DropUndecodable()
		logging.Debug().Err(err).
			Str("topic", p.topic).
			Int("partition", p.partition).
			Msg("dropping undecodable message")
		return
	}

	p.mu.Lock()
	filter := p.filter
	p.mu.Unlock()

	if ts.Before(filter.Start.Add(-filter.BeforeStartAllowance)) {
		p.demux.DropBeforeStart()
		return
	}
	if !filter.Stop.IsZero() && ts.After(filter.Stop.Add(filter.AfterStopAllowance)) {
		p.demux.DropAfterStop()
		return
	}
	p.demux.Process(key, ts, msg)
}
