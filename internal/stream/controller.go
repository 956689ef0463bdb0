// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mfalkenberg/nexusd/internal/broker"
	"github.com/mfalkenberg/nexusd/internal/filewriter"
	"github.com/mfalkenberg/nexusd/internal/logging"
)

// Options holds the per-job streaming parameters.
type Options struct {
	Start time.Time
	Stop  time.Time
	// TopicWriteDuration caps how long one topic may hog the poll loop.
	TopicWriteDuration   time.Duration
	StopLeeway           time.Duration
	ErrorTimeout         time.Duration
	BeforeStartAllowance time.Duration
	AfterStopAllowance   time.Duration
	FlushInterval        time.Duration
	MaxQueuedWrites      int
}

// DefaultOptions returns the streaming defaults.
func DefaultOptions() Options {
	return Options{
		TopicWriteDuration:   time.Second,
		StopLeeway:           5 * time.Second,
		ErrorTimeout:         10 * time.Second,
		BeforeStartAllowance: time.Second,
		AfterStopAllowance:   time.Second,
		FlushInterval:        10 * time.Second,
	}
}

// Controller supervises the partition streams of one job. It owns the
// FileWriterTask and the MessageWriter; the master owns the controller.
type Controller struct {
	task    *filewriter.Task
	writer  *MessageWriter
	demuxes map[string]*Demux
	// partitions grouped per topic, in topic creation order.
	topics     []string
	partitions map[string][]*PartitionStream
	opts       Options

	// mu guards stopTime and the partitions map, which the loop
	// goroutine prunes while the master thread sets stop times.
	mu       sync.Mutex
	stopTime time.Time

	cancel    context.CancelFunc
	loopDone  chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	doneFlag  atomic.Bool
}

// NewController builds the data plane of a job: one demultiplexer per
// topic, one partition stream per (topic, partition), one message
// writer. The partitions start polling immediately.
func NewController(ctx context.Context, log broker.Log, task *filewriter.Task, opts Options) (*Controller, error) {
	if opts.TopicWriteDuration <= 0 {
		opts.TopicWriteDuration = time.Second
	}

	c := &Controller{
		task:       task,
		demuxes:    make(map[string]*Demux),
		partitions: make(map[string][]*PartitionStream),
		opts:       opts,
		stopTime:   opts.Stop,
		loopDone:   make(chan struct{}),
	}
	c.writer = NewMessageWriter(opts.FlushInterval, opts.MaxQueuedWrites, task.Flush)

	filter := FilterConfig{
		Start:                opts.Start,
		Stop:                 opts.Stop,
		StopLeeway:           opts.StopLeeway,
		ErrorTimeout:         opts.ErrorTimeout,
		BeforeStartAllowance: opts.BeforeStartAllowance,
		AfterStopAllowance:   opts.AfterStopAllowance,
	}

	for _, source := range task.Sources() {
		if _, ok := c.demuxes[source.Topic]; ok {
			continue
		}
		c.demuxes[source.Topic] = NewDemux(source.Topic, task.Sources(), c.writer)
		c.topics = append(c.topics, source.Topic)
	}

	for _, topic := range c.topics {
		ids, err := log.Partitions(ctx, topic)
		if err != nil {
			c.writer.Stop()
			return nil, fmt.Errorf("discover partitions of %q: %w", topic, err)
		}
		for _, id := range ids {
			consumer, err := log.Consumer(ctx, topic, id, opts.Start.Add(-opts.BeforeStartAllowance))
			if err != nil {
				c.writer.Stop()
				c.closePartitions()
				return nil, fmt.Errorf("create consumer for %s/%d: %w", topic, id, err)
			}
			p := NewPartitionStream(topic, id, consumer, c.demuxes[topic], filter)
			c.partitions[topic] = append(c.partitions[topic], p)
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(loopCtx)
	return c, nil
}

// JobID returns the supervised job's id.
func (c *Controller) JobID() string { return c.task.JobID() }

// Filename returns the file being written.
func (c *Controller) Filename() string { return c.task.Filename() }

// WritesDone reports completed appends.
func (c *Controller) WritesDone() int64 { return c.writer.WritesDone() }

// WriteErrors reports failed appends.
func (c *Controller) WriteErrors() int64 { return c.writer.WriteErrors() }

// StopTime reports the current admission-window end.
func (c *Controller) StopTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopTime
}

// SetStopTime propagates a new stop time to every partition filter.
func (c *Controller) SetStopTime(stop time.Time) {
	c.mu.Lock()
	c.stopTime = stop
	for _, streams := range c.partitions {
		for _, p := range streams {
			p.SetStopTime(stop)
		}
	}
	c.mu.Unlock()
	logging.Info().Time("stop_time", stop).Str("job_id", c.JobID()).Msg("stop time set")
}

// StopNow requests an immediate stop: the admission window closes at the
// current wall clock and the partitions drain within the leeway.
func (c *Controller) StopNow() {
	c.SetStopTime(time.Now())
}

// IsDoneWriting reports whether every partition has completed.
func (c *Controller) IsDoneWriting() bool {
	return c.doneFlag.Load()
}

// run services all partitions fairly, capping each topic's share of the
// loop with the topic write duration.
func (c *Controller) run(ctx context.Context) {
	defer close(c.loopDone)
	for {
		if ctx.Err() != nil {
			return
		}
		remaining := 0
		sawMessage := false
		for _, topic := range c.topics {
			streams := c.alivePartitions(topic)
			if len(streams) == 0 {
				continue
			}
			deadline := time.Now().Add(c.opts.TopicWriteDuration)
			for time.Now().Before(deadline) {
				if ctx.Err() != nil {
					return
				}
				progressed := false
				for _, p := range streams {
					if p.Completed() {
						continue
					}
					if status := p.Poll(ctx); status == broker.PollMessage {
						progressed = true
						sawMessage = true
					}
				}
				if !progressed {
					break
				}
			}
			remaining += len(c.alivePartitions(topic))
		}
		if remaining == 0 {
			c.doneFlag.Store(true)
			logging.Info().Str("job_id", c.JobID()).Msg("all partitions completed")
			return
		}
		if !sawMessage {
			// All partitions idle; avoid a hot loop against fast
			// consumers (the in-memory log returns instantly).
			select {
			case <-ctx.Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
	}
}

// closePartitions releases every consumer; used on construction failure
// and final teardown.
func (c *Controller) closePartitions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, streams := range c.partitions {
		for _, p := range streams {
			_ = p.Close()
		}
	}
	c.partitions = make(map[string][]*PartitionStream)
}

// alivePartitions prunes and returns a topic's unfinished partitions.
func (c *Controller) alivePartitions(topic string) []*PartitionStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	streams := c.partitions[topic]
	alive := streams[:0]
	for _, p := range streams {
		if p.Completed() {
			_ = p.Close()
			continue
		}
		alive = append(alive, p)
	}
	c.partitions[topic] = alive
	return alive
}

// Stop cancels the poll loop. Idempotent; does not close the file.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
	})
	<-c.loopDone
}

// Close stops polling, drains the writer queue, flushes and closes the
// output file. Idempotent.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.Stop()
		c.writer.Stop()
		c.closePartitions()
		err = c.task.Close()
	})
	return err
}
