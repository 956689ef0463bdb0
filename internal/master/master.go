// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package master is the top-level job orchestrator: an Idle/Writing
// state machine that owns the active stream controller, drives the
// command-handler loop and reacts to writing-finished events.
package master

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mfalkenberg/nexusd/internal/command"
	"github.com/mfalkenberg/nexusd/internal/jobstore"
	"github.com/mfalkenberg/nexusd/internal/logging"
	"github.com/mfalkenberg/nexusd/internal/metrics"
	"github.com/mfalkenberg/nexusd/internal/status"
	"github.com/mfalkenberg/nexusd/internal/stream"
	"github.com/mfalkenberg/nexusd/internal/wire"
)

// ErrBadState is returned for stop operations outside the Writing state.
var ErrBadState = errors.New("operation not valid in the current state")

// State is the master's lifecycle state.
type State int

// Master states.
const (
	Idle State = iota
	Writing
)

// String implements fmt.Stringer.
func (s State) String() string {
	if s == Writing {
		return "writing"
	}
	return "idle"
}

// JobCreator builds the data plane of one validated start command.
type JobCreator interface {
	CreateJob(ctx context.Context, msg wire.RunStart) (*stream.Controller, error)
}

// Master owns at most one active write job.
type Master struct {
	handler  *command.Handler
	creator  JobCreator
	reporter *status.Reporter
	history  jobstore.Store

	state      State
	controller *stream.Controller
	filename   string
	metadata   string
	startTime  time.Time

	// tickInterval paces Run's loop; shortened in tests.
	tickInterval time.Duration
}

// NewMaster wires the orchestrator and registers the lifecycle
// callbacks on the command handler.
func NewMaster(handler *command.Handler, creator JobCreator, reporter *status.Reporter, history jobstore.Store) *Master {
	if history == nil {
		history = jobstore.NopStore{}
	}
	m := &Master{
		handler:      handler,
		creator:      creator,
		reporter:     reporter,
		history:      history,
		tickInterval: 50 * time.Millisecond,
	}
	handler.RegisterStartFunction(m.startWriting)
	handler.RegisterSetStopTimeFunction(m.setStopTime)
	handler.RegisterStopNowFunction(m.stopNow)
	return m
}

// State reports the current lifecycle state. Only the master goroutine
// mutates it; reads from other goroutines are informational.
func (m *Master) State() State { return m.state }

// IsWriting reports whether a job is active.
func (m *Master) IsWriting() bool { return m.state == Writing }

// Run drives the cooperative loop until the context is cancelled: one
// command-plane tick, then the writing-finished check.
func (m *Master) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			if m.state == Writing {
				m.abortActiveJob("service shutting down")
			}
			return err
		}
		m.Tick(ctx)
		select {
		case <-ctx.Done():
		case <-time.After(m.tickInterval):
		}
	}
}

// Tick performs one iteration of the master loop.
func (m *Master) Tick(ctx context.Context) {
	m.handler.LoopFunction(ctx)
	if m.hasWritingStopped() {
		m.setToIdle()
	}
}

func (m *Master) hasWritingStopped() bool {
	return m.controller != nil && m.controller.IsDoneWriting()
}

// startWriting is the handler's start callback. On failure the master
// stays Idle and the error propagates into the command response.
func (m *Master) startWriting(msg wire.RunStart) error {
	if m.state == Writing {
		return fmt.Errorf("service is already writing job %q", m.controller.JobID())
	}
	controller, err := m.creator.CreateJob(context.Background(), msg)
	if err != nil {
		logging.Error().Err(err).Str("job_id", msg.JobID).Msg("failed to create write job")
		return err
	}
	m.controller = controller
	m.filename = controller.Filename()
	m.metadata = msg.Metadata
	m.startTime = msg.StartTime
	m.state = Writing
	metrics.JobState.Set(1)
	m.reporter.UpdateJob(status.JobInfo{
		JobID:     msg.JobID,
		Filename:  controller.Filename(),
		StartTime: msg.StartTime,
		StopTime:  msg.StopTime,
		State:     status.StateWriting,
	})
	if !msg.StopTime.IsZero() && msg.StopTime.Before(msg.StartTime) {
		logging.Warn().
			Time("start_time", msg.StartTime).
			Time("stop_time", msg.StopTime).
			Msg("stop time precedes start time; the job will complete with an empty file")
	}
	return nil
}

// setStopTime is the handler's set-stop-time callback.
func (m *Master) setStopTime(stop time.Time) error {
	if m.state != Writing {
		return fmt.Errorf("unable to set stop time: %w", ErrBadState)
	}
	m.controller.SetStopTime(stop)
	m.reporter.UpdateStopTime(stop)
	return nil
}

// stopNow is the handler's stop-now callback.
func (m *Master) stopNow() error {
	if m.state != Writing {
		return fmt.Errorf("unable to stop writing: %w", ErrBadState)
	}
	m.controller.StopNow()
	m.reporter.UpdateStopTime(time.Now())
	return nil
}

// setToIdle closes out the finished job: has-stopped response, job
// history record, controller teardown, reporter reset.
func (m *Master) setToIdle() {
	record := jobstore.Record{
		JobID:       m.controller.JobID(),
		Filename:    m.filename,
		StartTime:   m.startTime,
		StopTime:    m.controller.StopTime(),
		WritesDone:  m.controller.WritesDone(),
		WriteErrors: m.controller.WriteErrors(),
		Outcome:     "success",
	}
	if err := m.controller.Close(); err != nil {
		logging.Error().Err(err).Msg("failed to close output file")
		record.Outcome = "close_failed"
		m.handler.SendErrorEncounteredMessage(m.filename, m.metadata, err.Error())
	} else {
		m.handler.SendHasStoppedMessage(m.filename, m.metadata)
	}
	m.recordHistory(record)
	m.controller = nil
	m.state = Idle
	metrics.JobState.Set(0)
	m.reporter.Reset()
	logging.Info().Str("job_id", record.JobID).Str("file", record.Filename).
		Int64("writes", record.WritesDone).Msg("write job finished")
}

// abortActiveJob tears the active job down on shutdown.
func (m *Master) abortActiveJob(reason string) {
	record := jobstore.Record{
		JobID:       m.controller.JobID(),
		Filename:    m.filename,
		StartTime:   m.startTime,
		StopTime:    m.controller.StopTime(),
		WritesDone:  m.controller.WritesDone(),
		WriteErrors: m.controller.WriteErrors(),
		Outcome:     "aborted",
	}
	if err := m.controller.Close(); err != nil {
		logging.Error().Err(err).Msg("failed to close output file during abort")
	}
	m.handler.SendErrorEncounteredMessage(m.filename, m.metadata, reason)
	m.recordHistory(record)
	m.controller = nil
	m.state = Idle
	metrics.JobState.Set(0)
	m.reporter.Reset()
}

func (m *Master) recordHistory(record jobstore.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.history.Insert(ctx, record); err != nil {
		logging.Warn().Err(err).Msg("failed to record job history")
	}
}
