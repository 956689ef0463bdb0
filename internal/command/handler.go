// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package command

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mfalkenberg/nexusd/internal/broker"
	"github.com/mfalkenberg/nexusd/internal/logging"
	"github.com/mfalkenberg/nexusd/internal/metrics"
	"github.com/mfalkenberg/nexusd/internal/wire"
)

// Job lifecycle callbacks registered by the master.
type (
	// StartFunc creates a write job from a validated start command.
	StartFunc func(wire.RunStart) error
	// StopTimeFunc sets the stop time of the active job.
	StopTimeFunc func(time.Time) error
	// StopNowFunc stops the active job immediately.
	StopNowFunc func() error
)

// outcome is the terminal stage a command reached.
type outcome int

const (
	failedAtExtraction outcome = iota
	failedAtServiceID
	failedAtJobID
	failedAtCmdID
	failedAtCmd
	cmdIsDone
)

func (o outcome) String() string {
	switch o {
	case failedAtExtraction:
		return "failed_at_extraction"
	case failedAtServiceID:
		return "failed_at_service_id"
	case failedAtJobID:
		return "failed_at_job_id"
	case failedAtCmdID:
		return "failed_at_command_id"
	case failedAtCmd:
		return "failed_at_command"
	case cmdIsDone:
		return "done"
	default:
		return "unknown"
	}
}

// cmdResponse couples an outcome with its log level and whether a
// response record is published.
type cmdResponse struct {
	level        zerolog.Level
	sendResponse bool
	message      string
}

// PoolFactory reconnects to the job pool after a job completes; nil
// disables pool polling permanently.
type PoolFactory func() (broker.JobListener, error)

// Handler is the single-threaded command-plane loop. On each tick it
// claims at most one job-pool message and one command-topic message and
// dispatches them by schema identifier.
type Handler struct {
	serviceID string

	pool        broker.JobListener
	poolFactory PoolFactory
	pollForJob  bool

	listener Listener
	feedback *FeedbackProducer

	doStart       StartFunc
	doSetStopTime StopTimeFunc
	doStopNow     StopNowFunc

	jobID string
	// seenStopCommands dedupes stop command-ids for the active job so a
	// repeated stop acknowledges without a second transition.
	seenStopCommands map[string]struct{}

	now func() time.Time
}

// NewHandler wires the command plane. pool and poolFactory may be nil
// when no job-pool topic is configured; listener may be nil when only
// the pool is configured.
func NewHandler(serviceID string, pool broker.JobListener, poolFactory PoolFactory, listener Listener, feedback *FeedbackProducer) *Handler {
	return &Handler{
		serviceID:        serviceID,
		pool:             pool,
		poolFactory:      poolFactory,
		pollForJob:       pool != nil,
		listener:         listener,
		feedback:         feedback,
		seenStopCommands: make(map[string]struct{}),
		now:              time.Now,
	}
}

// RegisterStartFunction sets the job-creation callback.
func (h *Handler) RegisterStartFunction(fn StartFunc) { h.doStart = fn }

// RegisterSetStopTimeFunction sets the stop-time callback.
func (h *Handler) RegisterSetStopTimeFunction(fn StopTimeFunc) { h.doSetStopTime = fn }

// RegisterStopNowFunction sets the immediate-stop callback.
func (h *Handler) RegisterStopNowFunction(fn StopNowFunc) { h.doStopNow = fn }

// LoopFunction performs one command-plane tick.
func (h *Handler) LoopFunction(ctx context.Context) {
	if h.pollForJob && h.pool != nil {
		if payload, ok := h.pool.PollJob(ctx); ok {
			h.handleCommand(payload, true)
		}
	}
	if h.listener != nil {
		if payload, ok := h.listener.PollCommand(ctx); ok {
			h.handleCommand(payload, false)
		}
	}
}

// SendHasStoppedMessage publishes the success record that closes out the
// active job and re-arms job-pool polling.
func (h *Handler) SendHasStoppedMessage(filename, metadata string) {
	h.feedback.PublishStopped(wire.ResultSuccess, h.jobID, "", filename, metadata)
	h.finishJob()
}

// SendErrorEncounteredMessage publishes the failure record that closes
// out the active job.
func (h *Handler) SendErrorEncounteredMessage(filename, metadata, errorMessage string) {
	h.feedback.PublishStopped(wire.ResultFailure, h.jobID, errorMessage, filename, metadata)
	h.finishJob()
}

func (h *Handler) finishJob() {
	h.jobID = ""
	h.seenStopCommands = make(map[string]struct{})
	if h.poolFactory == nil {
		return
	}
	pool, err := h.poolFactory()
	if err != nil {
		logging.Warn().Err(err).Msg("failed to rejoin the job pool")
		return
	}
	h.pool = pool
	h.pollForJob = true
}

func (h *Handler) handleCommand(payload []byte, ignoreServiceID bool) {
	switch {
	case wire.IsRunStart(payload):
		h.handleStartCommand(payload, ignoreServiceID)
	case wire.IsRunStop(payload):
		h.handleStopCommand(payload)
	default:
		id, err := wire.PayloadID(payload)
		if err != nil {
			logging.Debug().Err(err).Msg("unable to identify command message")
			return
		}
		logging.Debug().Str("schema", id).Msg("unable to handle command message of this type")
	}
}

func (h *Handler) handleStartCommand(payload []byte, ignoreServiceID bool) {
	result := failedAtExtraction
	var extractionError string
	var callbackError string

	msg, err := wire.DecodeRunStart(payload, h.now())
	if err == nil {
		result = failedAtServiceID
	} else {
		extractionError = err.Error()
	}
	if result == failedAtServiceID && (ignoreServiceID || h.serviceIDMatches(msg.ServiceID)) {
		result = failedAtJobID
	}
	if result == failedAtJobID && msg.JobID != "" {
		result = failedAtCmd
	}
	if result == failedAtCmd {
		if err := h.doStart(msg); err != nil {
			callbackError = err.Error()
		} else {
			h.jobID = msg.JobID
			h.seenStopCommands = make(map[string]struct{})
			h.pollForJob = false
			if h.pool != nil {
				if err := h.pool.Disconnect(); err != nil {
					logging.Warn().Err(err).Msg("failed to leave the job pool")
				}
			}
			result = cmdIsDone
		}
	}

	responses := map[outcome]cmdResponse{
		failedAtExtraction: {zerolog.WarnLevel, false, fmt.Sprintf(
			"Failed to extract start command from flatbuffer. The error was: %s", extractionError)},
		failedAtServiceID: {zerolog.DebugLevel, false, fmt.Sprintf(
			"Rejected start command as the service id was wrong. It should be %q, it was %q.",
			h.serviceID, msg.ServiceID)},
		failedAtJobID: {zerolog.WarnLevel, true, fmt.Sprintf(
			"Rejected start command as the job id was invalid (it was: %q).", msg.JobID)},
		failedAtCmd: {zerolog.ErrorLevel, true, fmt.Sprintf(
			"Failed to start filewriting job. The failure message was: %s", callbackError)},
		cmdIsDone: {zerolog.InfoLevel, true, fmt.Sprintf(
			"Started write job with start time %s and stop time %s.",
			msg.StartTime.UTC().Format(time.RFC3339Nano), formatStopTime(msg.StopTime))},
	}
	h.publishOutcome("start", responses[result], result, wire.Response{
		Type:      wire.ActionStartJob,
		JobID:     msg.JobID,
		CommandID: msg.JobID,
		Filename:  msg.Filename,
		Metadata:  msg.Metadata,
	})
}

func (h *Handler) handleStopCommand(payload []byte) {
	result := failedAtExtraction
	var extractionError string
	var responseMessage string

	msg, err := wire.DecodeRunStop(payload)
	if err == nil {
		result = failedAtServiceID
	} else {
		extractionError = err.Error()
	}
	if result == failedAtServiceID && h.serviceIDMatches(msg.ServiceID) {
		result = failedAtJobID
	}
	if result == failedAtJobID && h.jobID != "" && msg.JobID == h.jobID {
		result = failedAtCmdID
	}
	if result == failedAtCmdID && msg.CommandID != "" {
		result = failedAtCmd
	}
	if result == failedAtCmd {
		if _, seen := h.seenStopCommands[msg.CommandID]; seen {
			result = cmdIsDone
			responseMessage = fmt.Sprintf(
				"Stop command %q was already processed; no further action taken.", msg.CommandID)
		} else {
			result, responseMessage = h.invokeStop(msg)
		}
	}

	responses := map[outcome]cmdResponse{
		failedAtExtraction: {zerolog.WarnLevel, false, fmt.Sprintf(
			"Failed to extract stop command from flatbuffer. The error was: %s", extractionError)},
		failedAtServiceID: {zerolog.DebugLevel, false, fmt.Sprintf(
			"Rejected stop command as the service id was wrong. It should be %q, it was %q.",
			h.serviceID, msg.ServiceID)},
		failedAtJobID: {zerolog.WarnLevel, true, fmt.Sprintf(
			"Rejected stop command as the job id was invalid (it was %q, the current job id is %q).",
			msg.JobID, h.jobID)},
		failedAtCmdID: {zerolog.WarnLevel, true, fmt.Sprintf(
			"Rejected stop command as the command id was missing (job id was %q).", msg.JobID)},
		failedAtCmd: {zerolog.ErrorLevel, true, responseMessage},
		cmdIsDone:   {zerolog.InfoLevel, true, responseMessage},
	}
	h.publishOutcome("stop", responses[result], result, wire.Response{
		Type:      wire.ActionSetStopTime,
		JobID:     msg.JobID,
		CommandID: msg.CommandID,
	})
	if result == cmdIsDone && msg.CommandID != "" {
		h.seenStopCommands[msg.CommandID] = struct{}{}
	}
}

// invokeStop runs the stop callback matching the command's stop time.
func (h *Handler) invokeStop(msg wire.RunStop) (outcome, string) {
	if msg.StopTime.IsZero() {
		if err := h.doStopNow(); err != nil {
			return failedAtCmd, err.Error()
		}
		return cmdIsDone, "Attempting to stop writing job now."
	}
	if err := h.doSetStopTime(msg.StopTime); err != nil {
		return failedAtCmd, err.Error()
	}
	return cmdIsDone, fmt.Sprintf("File writing job stop time set to: %s",
		msg.StopTime.UTC().Format(time.RFC3339Nano))
}

func (h *Handler) serviceIDMatches(commandServiceID string) bool {
	// An absent service id addresses every service.
	return commandServiceID == "" || commandServiceID == h.serviceID
}

func (h *Handler) publishOutcome(command string, response cmdResponse, result outcome, record wire.Response) {
	logger := logging.Logger()
	logger.WithLevel(response.level).
		Str("command", command).
		Str("outcome", result.String()).
		Msg(response.message)
	metrics.CommandOutcomes.WithLabelValues(command, result.String()).Inc()
	if !response.sendResponse {
		return
	}
	record.Result = wire.ResultFailure
	if result == cmdIsDone {
		record.Result = wire.ResultSuccess
	}
	record.Message = response.message
	h.feedback.PublishResponse(record)
}

// JobID reports the active job id; empty when idle.
func (h *Handler) JobID() string { return h.jobID }

// PollingForJobs reports whether the handler is watching the job pool.
func (h *Handler) PollingForJobs() bool { return h.pollForJob }

func formatStopTime(stop time.Time) string {
	if stop.IsZero() {
		return "never"
	}
	return stop.UTC().Format(time.RFC3339Nano)
}
