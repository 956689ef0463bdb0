// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package wire

import (
	"fmt"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
)

// RunStop table slots.
const (
	runStopSlotStopTime  = 4
	runStopSlotRunName   = 6
	runStopSlotJobID     = 8
	runStopSlotServiceID = 10
	runStopSlotCommandID = 12
	runStopNumSlots      = 5
)

// RunStop is a decoded stop command.
type RunStop struct {
	JobID     string
	CommandID string
	ServiceID string
	RunName   string
	// StopTime is zero when the command requests an immediate stop.
	StopTime time.Time
}

// IsRunStop reports whether the payload is a structurally valid run-stop
// buffer.
func IsRunStop(payload []byte) bool {
	_, err := verifyTable(payload, RunStopID)
	return err == nil
}

// DecodeRunStop extracts and validates a stop command.
func DecodeRunStop(payload []byte) (RunStop, error) {
	tab, err := verifyTable(payload, RunStopID)
	if err != nil {
		return RunStop{}, fmt.Errorf("run-stop extraction failed: %w", err)
	}
	msg := RunStop{
		JobID:     tableString(tab, runStopSlotJobID),
		CommandID: tableString(tab, runStopSlotCommandID),
		ServiceID: tableString(tab, runStopSlotServiceID),
		RunName:   tableString(tab, runStopSlotRunName),
	}
	if msg.JobID == "" {
		return RunStop{}, fmt.Errorf(
			"errors encountered parsing run stop message: job ID missing, this field is required")
	}
	if stopMS := tableUint64(tab, runStopSlotStopTime); stopMS != 0 {
		msg.StopTime = time.UnixMilli(int64(stopMS))
	}
	return msg, nil
}

// EncodeRunStopArgs are the wire fields of a run-stop command.
type EncodeRunStopArgs struct {
	JobID      string
	CommandID  string
	ServiceID  string
	RunName    string
	StopTimeMS uint64
}

// EncodeRunStop builds a run-stop buffer.
func EncodeRunStop(args EncodeRunStopArgs) []byte {
	b := flatbuffers.NewBuilder(256)
	offsets := map[flatbuffers.VOffsetT]flatbuffers.UOffsetT{}
	strSlots := []struct {
		slot  flatbuffers.VOffsetT
		value string
	}{
		{runStopSlotRunName, args.RunName},
		{runStopSlotJobID, args.JobID},
		{runStopSlotServiceID, args.ServiceID},
		{runStopSlotCommandID, args.CommandID},
	}
	for _, s := range strSlots {
		if s.value != "" {
			offsets[s.slot] = b.CreateString(s.value)
		}
	}

	b.StartObject(runStopNumSlots)
	b.PrependUint64Slot(slotIndex(runStopSlotStopTime), args.StopTimeMS, 0)
	for slot, off := range offsets {
		b.PrependUOffsetTSlot(slotIndex(slot), off, 0)
	}
	root := b.EndObject()
	b.FinishWithFileIdentifier(root, []byte(RunStopID))
	return b.FinishedBytes()
}
