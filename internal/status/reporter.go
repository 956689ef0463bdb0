// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package status publishes periodic job snapshots to the status topic so
// operators and the instrument control system can watch write jobs
// without touching the service.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/mfalkenberg/nexusd/internal/broker"
	"github.com/mfalkenberg/nexusd/internal/logging"
	"github.com/mfalkenberg/nexusd/internal/wire"
)

// State labels used in status records.
const (
	StateIdle    = "idle"
	StateWriting = "writing"
)

// JobInfo is the mutable snapshot the reporter publishes.
type JobInfo struct {
	JobID     string
	Filename  string
	StartTime time.Time
	StopTime  time.Time
	State     string
}

// Reporter is the timer-driven status publisher. It runs on its own
// goroutine and is joined at shutdown.
type Reporter struct {
	producer  broker.Producer
	topic     string
	serviceID string
	interval  time.Duration

	mu   sync.Mutex
	info JobInfo

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewReporter creates a reporter; Start launches it.
func NewReporter(producer broker.Producer, topic, serviceID string, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Reporter{
		producer:  producer,
		topic:     topic,
		serviceID: serviceID,
		interval:  interval,
		info:      JobInfo{State: StateIdle},
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the publishing loop.
func (r *Reporter) Start() {
	go r.run()
}

// Stop terminates and joins the publishing loop. Idempotent.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.done
}

// UpdateJob replaces the snapshot when a job starts.
func (r *Reporter) UpdateJob(info JobInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info = info
}

// UpdateStopTime records a changed stop time.
func (r *Reporter) UpdateStopTime(stop time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info.StopTime = stop
}

// Reset clears the snapshot when the master returns to idle.
func (r *Reporter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info = JobInfo{State: StateIdle}
}

// Snapshot returns the current job info; used by the HTTP surface.
func (r *Reporter) Snapshot() JobInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info
}

func (r *Reporter) run() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.publish()
		}
	}
}

func (r *Reporter) publish() {
	info := r.Snapshot()
	payload, err := wire.EncodeStatus(wire.NewStatus(
		r.serviceID, info.JobID, info.Filename, info.State,
		info.StartTime, info.StopTime, r.interval))
	if err != nil {
		logging.Error().Err(err).Msg("failed to encode status record")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()
	if err := r.producer.Publish(ctx, r.topic, payload); err != nil {
		logging.Debug().Err(err).Msg("failed to publish status record")
	}
}
