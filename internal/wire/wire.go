// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package wire implements the flatbuffer framing of the control and data
// planes. Every payload carries a four-byte schema identifier at offset 4;
// commands use the run-start ("pl72") and run-stop ("6s4t") schemas, data
// payloads are routed to writer modules by their identifier ("f142",
// "ev42", "tdct").
//
// The table accessors are hand-maintained against the flatbuffers runtime
// in the style of flatc output. The Go runtime ships no generated
// verifier, so verifyTable performs structural bounds checks (buffer size,
// identifier, root and vtable bounds) before any field is read; a payload
// failing them is rejected the same way full verification would reject it.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
)

// Schema identifiers.
const (
	RunStartID  = "pl72"
	RunStopID   = "6s4t"
	LogDataID   = "f142"
	EventDataID = "ev42"
	ChopperID   = "tdct"
)

// ErrTruncated is returned for payloads too short to carry a flatbuffer.
var ErrTruncated = errors.New("payload too short for a flatbuffer")

// PayloadID extracts the four-byte schema identifier at offset 4.
func PayloadID(payload []byte) (string, error) {
	if len(payload) < 8 {
		return "", ErrTruncated
	}
	return string(payload[4:8]), nil
}

// HasID reports whether the payload carries the given schema identifier.
func HasID(payload []byte, id string) bool {
	got, err := PayloadID(payload)
	return err == nil && got == id
}

// verifyTable checks that the payload's root table and its vtable lie
// within the buffer. It returns the initialized table on success.
func verifyTable(payload []byte, id string) (*flatbuffers.Table, error) {
	if len(payload) < 12 {
		return nil, ErrTruncated
	}
	if id != "" && string(payload[4:8]) != id {
		return nil, fmt.Errorf("schema identifier mismatch: got %q, want %q", payload[4:8], id)
	}
	root := flatbuffers.GetUOffsetT(payload)
	if int(root)+4 > len(payload) {
		return nil, fmt.Errorf("root table offset %d out of bounds", root)
	}
	// The root table starts with a signed back-offset to its vtable.
	vtableRel := int32(binary.LittleEndian.Uint32(payload[root:]))
	vtable := int64(root) - int64(vtableRel)
	if vtable < 0 || vtable+4 > int64(len(payload)) {
		return nil, fmt.Errorf("vtable offset %d out of bounds", vtable)
	}
	vtableLen := int64(binary.LittleEndian.Uint16(payload[vtable:]))
	if vtableLen < 4 || vtable+vtableLen > int64(len(payload)) {
		return nil, fmt.Errorf("vtable length %d out of bounds", vtableLen)
	}
	return &flatbuffers.Table{Bytes: payload, Pos: root}, nil
}

// tableString reads an optional string field; empty when absent.
func tableString(tab *flatbuffers.Table, slot flatbuffers.VOffsetT) string {
	o := flatbuffers.UOffsetT(tab.Offset(slot))
	if o == 0 {
		return ""
	}
	return string(tab.ByteVector(o + tab.Pos))
}

func tableUint64(tab *flatbuffers.Table, slot flatbuffers.VOffsetT) uint64 {
	o := flatbuffers.UOffsetT(tab.Offset(slot))
	if o == 0 {
		return 0
	}
	return tab.GetUint64(o + tab.Pos)
}

func tableInt64(tab *flatbuffers.Table, slot flatbuffers.VOffsetT) int64 {
	o := flatbuffers.UOffsetT(tab.Offset(slot))
	if o == 0 {
		return 0
	}
	return tab.GetInt64(o + tab.Pos)
}

func tableByte(tab *flatbuffers.Table, slot flatbuffers.VOffsetT) byte {
	o := flatbuffers.UOffsetT(tab.Offset(slot))
	if o == 0 {
		return 0
	}
	return tab.GetByte(o + tab.Pos)
}
