// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package stream implements the data plane of a write job: the
// single-threaded message writer, the per-topic demultiplexer, the
// partition poll state machine and the controller that supervises them.
package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/mfalkenberg/nexusd/internal/logging"
	"github.com/mfalkenberg/nexusd/internal/metrics"
	"github.com/mfalkenberg/nexusd/internal/writer"
)

// Write-error logs are rate limited per module so a wedged source cannot
// flood the log.
const errorLogMinInterval = 5 * time.Second

// maxTimeCheckCounter bounds how many jobs are handled between flush
// checks when the queue never runs dry.
const maxTimeCheckCounter = 200

// idleWait is how long the worker parks when the queue is empty.
const idleWait = 50 * time.Millisecond

type writeJob struct {
	moduleID string
	module   writer.Module
	payload  []byte
}

// MessageWriter serializes all file appends onto one worker goroutine
// draining a multi-producer queue, and periodically flushes every module
// it has written through plus the file itself.
type MessageWriter struct {
	jobs          chan writeJob
	flushInterval time.Duration
	flushFile     func() error

	stopOnce sync.Once
	stopping chan struct{}
	done     chan struct{}

	writesDone  atomic.Int64
	writeErrors atomic.Int64

	// Worker-thread state; never touched from producers.
	seenModules  map[writer.Module]string
	errorCounts  map[string]*atomic.Int64
	errorLimits  map[string]*rate.Limiter
}

// NewMessageWriter starts the worker. flushFile is invoked after module
// flushes on each flush boundary; nil disables it.
func NewMessageWriter(flushInterval time.Duration, queueDepth int, flushFile func() error) *MessageWriter {
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}
	if queueDepth <= 0 {
		queueDepth = 16384
	}
	mw := &MessageWriter{
		jobs:          make(chan writeJob, queueDepth),
		flushInterval: flushInterval,
		flushFile:     flushFile,
		stopping:      make(chan struct{}),
		done:          make(chan struct{}),
		seenModules:   make(map[writer.Module]string),
		errorCounts:   make(map[string]*atomic.Int64),
		errorLimits:   make(map[string]*rate.Limiter),
	}
	go mw.run()
	return mw
}

// AddMessage enqueues one append. Blocks when the queue is full, which
// back-pressures the partition loops instead of dropping data.
func (mw *MessageWriter) AddMessage(moduleID string, module writer.Module, payload []byte) {
	select {
	case <-mw.stopping:
		return
	default:
	}
	mw.jobs <- writeJob{moduleID: moduleID, module: module, payload: payload}
	metrics.QueuedWrites.Set(float64(len(mw.jobs)))
}

// WritesDone reports completed appends.
func (mw *MessageWriter) WritesDone() int64 { return mw.writesDone.Load() }

// WriteErrors reports failed appends.
func (mw *MessageWriter) WriteErrors() int64 { return mw.writeErrors.Load() }

// ModuleErrorCount reports failed appends for one module id.
func (mw *MessageWriter) ModuleErrorCount(moduleID string) int64 {
	// Counter pointers are created once on the worker and never removed,
	// so reading the map here races only with an unseen module, which
	// reads as zero.
	if c, ok := mw.errorCounts[moduleID]; ok {
		return c.Load()
	}
	return 0
}

// Stop drains pending work, flushes once more, and joins the worker.
// Idempotent.
func (mw *MessageWriter) Stop() {
	mw.stopOnce.Do(func() { close(mw.stopping) })
	<-mw.done
}

func (mw *MessageWriter) run() {
	defer close(mw.done)
	lastFlush := time.Now()
	jobsSinceCheck := 0

	maybeFlush := func() {
		if time.Since(lastFlush) < mw.flushInterval {
			return
		}
		mw.flushAll()
		lastFlush = time.Now()
	}

	for {
		select {
		case job := <-mw.jobs:
			mw.handle(job)
			jobsSinceCheck++
			if jobsSinceCheck >= maxTimeCheckCounter {
				jobsSinceCheck = 0
				maybeFlush()
			}
		default:
			select {
			case job := <-mw.jobs:
				mw.handle(job)
			case <-mw.stopping:
				mw.drain()
				mw.flushAll()
				return
			case <-time.After(idleWait):
				maybeFlush()
			}
		}
	}
}

func (mw *MessageWriter) drain() {
	for {
		select {
		case job := <-mw.jobs:
			mw.handle(job)
		default:
			return
		}
	}
}

func (mw *MessageWriter) handle(job writeJob) {
	metrics.QueuedWrites.Set(float64(len(mw.jobs)))
	if _, ok := mw.seenModules[job.module]; !ok {
		mw.seenModules[job.module] = job.moduleID
	}
	if err := job.module.Write(job.payload); err != nil {
		mw.writeErrors.Add(1)
		metrics.WriteErrors.WithLabelValues(job.moduleID).Inc()
		counter, ok := mw.errorCounts[job.moduleID]
		if !ok {
			counter = &atomic.Int64{}
			mw.errorCounts[job.moduleID] = counter
			mw.errorLimits[job.moduleID] = rate.NewLimiter(rate.Every(errorLogMinInterval), 1)
		}
		counter.Add(1)
		if mw.errorLimits[job.moduleID].Allow() {
			logging.Error().Err(err).
				Str("module", job.moduleID).
				Int64("module_errors", counter.Load()).
				Msg("failed to write message")
		}
		return
	}
	mw.writesDone.Add(1)
	metrics.WritesDone.Inc()
}

func (mw *MessageWriter) flushAll() {
	started := time.Now()
	for module, moduleID := range mw.seenModules {
		if err := module.Flush(); err != nil {
			logging.Warn().Err(err).Str("module", moduleID).Msg("module flush failed")
		}
	}
	if mw.flushFile != nil {
		if err := mw.flushFile(); err != nil {
			logging.Warn().Err(err).Msg("file flush failed")
		}
	}
	metrics.FlushDuration.Observe(time.Since(started).Seconds())
}
