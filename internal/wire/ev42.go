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

// EventMessage table slots.
const (
	eventSlotSourceName   = 4
	eventSlotMessageID    = 6
	eventSlotPulseTime    = 8
	eventSlotTimeOfFlight = 10
	eventSlotDetectorID   = 12
	eventNumSlots         = 5
)

// EventData is a decoded ev42 event pulse. TimeOfFlight and DetectorID
// are parallel vectors: element i is one detected neutron.
type EventData struct {
	SourceName string
	MessageID  uint64
	// PulseTimeNS is the pulse timestamp in nanoseconds since epoch.
	PulseTimeNS  uint64
	TimeOfFlight []uint32
	DetectorID   []uint32
}

// Time converts the pulse timestamp to a time.Time.
func (d EventData) Time() time.Time {
	return time.Unix(0, int64(d.PulseTimeNS))
}

// DecodeEventData extracts an ev42 event message.
func DecodeEventData(payload []byte) (EventData, error) {
	tab, err := verifyTable(payload, EventDataID)
	if err != nil {
		return EventData{}, fmt.Errorf("ev42 extraction failed: %w", err)
	}
	msg := EventData{
		SourceName:  tableString(tab, eventSlotSourceName),
		MessageID:   tableUint64(tab, eventSlotMessageID),
		PulseTimeNS: tableUint64(tab, eventSlotPulseTime),
	}
	if msg.SourceName == "" {
		return EventData{}, fmt.Errorf("ev42 extraction failed: source name missing")
	}
	msg.TimeOfFlight = decodeUint32Vector(tab, eventSlotTimeOfFlight)
	msg.DetectorID = decodeUint32Vector(tab, eventSlotDetectorID)
	if len(msg.TimeOfFlight) != len(msg.DetectorID) {
		return EventData{}, fmt.Errorf(
			"ev42 extraction failed: time_of_flight and detector_id length mismatch (%d vs %d)",
			len(msg.TimeOfFlight), len(msg.DetectorID))
	}
	return msg, nil
}

func decodeUint32Vector(tab *flatbuffers.Table, slot flatbuffers.VOffsetT) []uint32 {
	o := flatbuffers.UOffsetT(tab.Offset(slot))
	if o == 0 {
		return nil
	}
	n := tab.VectorLen(o)
	a := tab.Vector(o)
	out := make([]uint32, n)
	for j := 0; j < n; j++ {
		out[j] = tab.GetUint32(a + flatbuffers.UOffsetT(j*4))
	}
	return out
}

// EncodeEventDataArgs are the wire fields of an ev42 message.
type EncodeEventDataArgs struct {
	SourceName   string
	MessageID    uint64
	PulseTimeNS  uint64
	TimeOfFlight []uint32
	DetectorID   []uint32
}

// EncodeEventData builds an ev42 buffer.
func EncodeEventData(args EncodeEventDataArgs) []byte {
	b := flatbuffers.NewBuilder(512)

	tofOff := encodeUint32Vector(b, args.TimeOfFlight)
	detOff := encodeUint32Vector(b, args.DetectorID)
	source := b.CreateString(args.SourceName)

	b.StartObject(eventNumSlots)
	b.PrependUOffsetTSlot(slotIndex(eventSlotSourceName), source, 0)
	b.PrependUint64Slot(slotIndex(eventSlotMessageID), args.MessageID, 0)
	b.PrependUint64Slot(slotIndex(eventSlotPulseTime), args.PulseTimeNS, 0)
	b.PrependUOffsetTSlot(slotIndex(eventSlotTimeOfFlight), tofOff, 0)
	b.PrependUOffsetTSlot(slotIndex(eventSlotDetectorID), detOff, 0)
	root := b.EndObject()
	b.FinishWithFileIdentifier(root, []byte(EventDataID))
	return b.FinishedBytes()
}

func encodeUint32Vector(b *flatbuffers.Builder, values []uint32) flatbuffers.UOffsetT {
	b.StartVector(4, len(values), 4)
	for j := len(values) - 1; j >= 0; j-- {
		b.PrependUint32(values[j])
	}
	return b.EndVector(len(values))
}
