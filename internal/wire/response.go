// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package wire

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ActionType names the command a response answers.
type ActionType string

// Response action types.
const (
	ActionStartJob    ActionType = "StartJob"
	ActionSetStopTime ActionType = "SetStopTime"
	ActionHasStopped  ActionType = "HasStopped"
)

// ActionResult is the outcome of a command.
type ActionResult string

// Response results.
const (
	ResultSuccess ActionResult = "Success"
	ResultFailure ActionResult = "Failure"
)

// Response is the JSON document published to the response topic for each
// terminal command outcome.
type Response struct {
	Type      ActionType   `json:"type"`
	Result    ActionResult `json:"result"`
	JobID     string       `json:"job_id"`
	CommandID string       `json:"command_id"`
	ServiceID string       `json:"service_id"`
	Message   string       `json:"message"`
	Filename  string       `json:"filename,omitempty"`
	Metadata  string       `json:"metadata,omitempty"`
}

// EncodeResponse marshals a response document.
func EncodeResponse(r Response) ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return payload, nil
}

// DecodeResponse unmarshals a response document.
func DecodeResponse(payload []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(payload, &r); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return r, nil
}

// Status is the periodic JSON status document published by the reporter.
type Status struct {
	ServiceID string `json:"service_id"`
	JobID     string `json:"job_id"`
	Filename  string `json:"file_being_written"`
	State     string `json:"state"`
	StartTime int64  `json:"start_time,omitempty"`
	StopTime  int64  `json:"stop_time,omitempty"`
	// UpdateIntervalMS lets consumers detect a stalled reporter.
	UpdateIntervalMS int64 `json:"update_interval"`
}

// NewStatus builds a status snapshot with millisecond times.
func NewStatus(serviceID, jobID, filename, state string, start, stop time.Time, interval time.Duration) Status {
	s := Status{
		ServiceID:        serviceID,
		JobID:            jobID,
		Filename:         filename,
		State:            state,
		UpdateIntervalMS: interval.Milliseconds(),
	}
	if !start.IsZero() {
		s.StartTime = start.UnixMilli()
	}
	if !stop.IsZero() {
		s.StopTime = stop.UnixMilli()
	}
	return s
}

// EncodeStatus marshals a status document.
func EncodeStatus(s Status) ([]byte, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	return payload, nil
}

// DecodeStatus unmarshals a status document.
func DecodeStatus(payload []byte) (Status, error) {
	var s Status
	if err := json.Unmarshal(payload, &s); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}
	return s, nil
}
