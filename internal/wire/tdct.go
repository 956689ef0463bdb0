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

// Chopper timestamp table slots.
const (
	chopperSlotName       = 4
	chopperSlotTimestamps = 6
	chopperSlotSequence   = 8
	chopperNumSlots       = 3
)

// ChopperTimestamps is a decoded tdct message: a batch of chopper
// top-dead-center timestamps in nanoseconds since epoch.
type ChopperTimestamps struct {
	Name            string
	TimestampsNS    []int64
	SequenceCounter uint64
}

// Time returns the first timestamp of the batch, which the time filter
// gates on.
func (c ChopperTimestamps) Time() time.Time {
	if len(c.TimestampsNS) == 0 {
		return time.Time{}
	}
	return time.Unix(0, c.TimestampsNS[0])
}

// DecodeChopperTimestamps extracts a tdct message.
func DecodeChopperTimestamps(payload []byte) (ChopperTimestamps, error) {
	tab, err := verifyTable(payload, ChopperID)
	if err != nil {
		return ChopperTimestamps{}, fmt.Errorf("tdct extraction failed: %w", err)
	}
	msg := ChopperTimestamps{
		Name:            tableString(tab, chopperSlotName),
		SequenceCounter: tableUint64(tab, chopperSlotSequence),
	}
	if msg.Name == "" {
		return ChopperTimestamps{}, fmt.Errorf("tdct extraction failed: name missing")
	}
	o := flatbuffers.UOffsetT(tab.Offset(chopperSlotTimestamps))
	if o != 0 {
		n := tab.VectorLen(o)
		a := tab.Vector(o)
		msg.TimestampsNS = make([]int64, n)
		for j := 0; j < n; j++ {
			msg.TimestampsNS[j] = tab.GetInt64(a + flatbuffers.UOffsetT(j*8))
		}
	}
	if len(msg.TimestampsNS) == 0 {
		return ChopperTimestamps{}, fmt.Errorf("tdct extraction failed: timestamps missing")
	}
	return msg, nil
}

// EncodeChopperTimestamps builds a tdct buffer.
func EncodeChopperTimestamps(name string, timestampsNS []int64, sequence uint64) []byte {
	b := flatbuffers.NewBuilder(256)
	b.StartVector(8, len(timestampsNS), 8)
	for j := len(timestampsNS) - 1; j >= 0; j-- {
		b.PrependInt64(timestampsNS[j])
	}
	tsOff := b.EndVector(len(timestampsNS))
	nameOff := b.CreateString(name)

	b.StartObject(chopperNumSlots)
	b.PrependUOffsetTSlot(slotIndex(chopperSlotName), nameOff, 0)
	b.PrependUOffsetTSlot(slotIndex(chopperSlotTimestamps), tsOff, 0)
	b.PrependUint64Slot(slotIndex(chopperSlotSequence), sequence, 0)
	root := b.EndObject()
	b.FinishWithFileIdentifier(root, []byte(ChopperID))
	return b.FinishedBytes()
}
