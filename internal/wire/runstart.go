// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package wire

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
)

// RunStart table slots. Slot order is the wire contract; do not reorder.
const (
	runStartSlotStartTime      = 4
	runStartSlotStopTime       = 6
	runStartSlotRunName        = 8
	runStartSlotInstrument     = 10
	runStartSlotNexusStructure = 12
	runStartSlotJobID          = 14
	runStartSlotBroker         = 16
	runStartSlotServiceID      = 18
	runStartSlotFilename       = 20
	runStartSlotMetadata       = 22
	runStartNumSlots           = 10
)

// RunStart is a decoded start command.
type RunStart struct {
	JobID          string
	Filename       string
	NexusStructure string
	Broker         string
	ServiceID      string
	RunName        string
	InstrumentName string
	Metadata       string
	// StartTime is resolved at extraction: a zero wire value means "now".
	StartTime time.Time
	// StopTime is zero when the command carries no stop time ("never").
	StopTime time.Time
}

// IsRunStart reports whether the payload is a structurally valid run-start
// buffer.
func IsRunStart(payload []byte) bool {
	_, err := verifyTable(payload, RunStartID)
	return err == nil
}

// DecodeRunStart extracts and validates a run-start command. Required
// fields are checked together so the response message lists every problem,
// matching the start-command validation contract.
func DecodeRunStart(payload []byte, defaultStart time.Time) (RunStart, error) {
	tab, err := verifyTable(payload, RunStartID)
	if err != nil {
		return RunStart{}, fmt.Errorf("run-start extraction failed: %w", err)
	}

	msg := RunStart{
		JobID:          tableString(tab, runStartSlotJobID),
		Filename:       tableString(tab, runStartSlotFilename),
		NexusStructure: tableString(tab, runStartSlotNexusStructure),
		Broker:         tableString(tab, runStartSlotBroker),
		ServiceID:      tableString(tab, runStartSlotServiceID),
		RunName:        tableString(tab, runStartSlotRunName),
		InstrumentName: tableString(tab, runStartSlotInstrument),
		Metadata:       tableString(tab, runStartSlotMetadata),
	}

	var problems []string
	if msg.JobID == "" {
		problems = append(problems, "job ID missing, this field is required")
	}
	if msg.NexusStructure == "" {
		problems = append(problems, "NeXus structure missing, this field is required")
	}
	if msg.Filename == "" {
		problems = append(problems, "filename missing, this field is required")
	}
	if msg.Broker == "" {
		problems = append(problems, "broker missing, this field is required")
	} else if _, uriErr := url.Parse(ensureScheme(msg.Broker)); uriErr != nil {
		problems = append(problems, "unable to parse broker address")
	}
	if len(problems) > 0 {
		return RunStart{}, fmt.Errorf("errors encountered parsing run start message: %s",
			strings.Join(problems, "; "))
	}

	if startMS := tableUint64(tab, runStartSlotStartTime); startMS > 0 {
		msg.StartTime = time.UnixMilli(int64(startMS))
	} else {
		msg.StartTime = defaultStart
	}
	if stopMS := tableUint64(tab, runStartSlotStopTime); stopMS != 0 {
		msg.StopTime = time.UnixMilli(int64(stopMS))
	}
	return msg, nil
}

// ensureScheme lets host:port broker addresses pass URI validation.
func ensureScheme(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "nats://" + broker
}

// EncodeRunStartArgs are the wire fields of a run-start command.
type EncodeRunStartArgs struct {
	JobID          string
	Filename       string
	NexusStructure string
	Broker         string
	ServiceID      string
	RunName        string
	InstrumentName string
	Metadata       string
	StartTimeMS    uint64
	StopTimeMS     uint64
}

// EncodeRunStart builds a run-start buffer. Used by the integration tests
// and the nexusd-send tooling.
func EncodeRunStart(args EncodeRunStartArgs) []byte {
	b := flatbuffers.NewBuilder(512)
	offsets := map[flatbuffers.VOffsetT]flatbuffers.UOffsetT{}
	strSlots := []struct {
		slot  flatbuffers.VOffsetT
		value string
	}{
		{runStartSlotRunName, args.RunName},
		{runStartSlotInstrument, args.InstrumentName},
		{runStartSlotNexusStructure, args.NexusStructure},
		{runStartSlotJobID, args.JobID},
		{runStartSlotBroker, args.Broker},
		{runStartSlotServiceID, args.ServiceID},
		{runStartSlotFilename, args.Filename},
		{runStartSlotMetadata, args.Metadata},
	}
	for _, s := range strSlots {
		if s.value != "" {
			offsets[s.slot] = b.CreateString(s.value)
		}
	}

	b.StartObject(runStartNumSlots)
	b.PrependUint64Slot(slotIndex(runStartSlotStartTime), args.StartTimeMS, 0)
	b.PrependUint64Slot(slotIndex(runStartSlotStopTime), args.StopTimeMS, 0)
	for slot, off := range offsets {
		b.PrependUOffsetTSlot(slotIndex(slot), off, 0)
	}
	root := b.EndObject()
	b.FinishWithFileIdentifier(root, []byte(RunStartID))
	return b.FinishedBytes()
}

// slotIndex converts a vtable byte offset back to a field index.
func slotIndex(slot flatbuffers.VOffsetT) int {
	return int(slot-4) / 2
}
