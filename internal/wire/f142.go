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

// LogData table slots.
const (
	logDataSlotSourceName = 4
	logDataSlotValueType  = 6
	logDataSlotValue      = 8
	logDataSlotTimestamp  = 10
	logDataSlotStatus     = 12
	logDataSlotSeverity   = 14
	logDataNumSlots       = 6
)

// ValueKind enumerates the log-data value union, in union order.
type ValueKind byte

// Union member tags. The wire value is the member's position in the union
// declaration; zero is NONE.
const (
	ValueNone ValueKind = iota
	ValueByte
	ValueUByte
	ValueShort
	ValueUShort
	ValueInt
	ValueUInt
	ValueLong
	ValueULong
	ValueFloat
	ValueDouble
	ValueArrayByte
	ValueArrayUByte
	ValueArrayShort
	ValueArrayUShort
	ValueArrayInt
	ValueArrayUInt
	ValueArrayLong
	ValueArrayULong
	ValueArrayFloat
	ValueArrayDouble
)

// IsArray reports whether the kind is one of the array members.
func (k ValueKind) IsArray() bool { return k >= ValueArrayByte }

// Alarm field values. Zero means "no change"; the f142 writer appends an
// alarm record only for non-zero status.
const (
	AlarmNoChange = 0
)

// LogValue is a decoded value union. Exactly one of the slices is
// populated, matching the signedness of the wire type; scalar members
// populate a one-element slice.
type LogValue struct {
	Kind  ValueKind
	Ints  []int64
	Uints []uint64
	Reals []float64
}

// Len returns the element count.
func (v LogValue) Len() int {
	switch {
	case v.Reals != nil:
		return len(v.Reals)
	case v.Ints != nil:
		return len(v.Ints)
	default:
		return len(v.Uints)
	}
}

// Float64s converts the value to float64 elements regardless of wire type.
func (v LogValue) Float64s() []float64 {
	if v.Reals != nil {
		return v.Reals
	}
	out := make([]float64, 0, v.Len())
	for _, x := range v.Ints {
		out = append(out, float64(x))
	}
	for _, x := range v.Uints {
		out = append(out, float64(x))
	}
	return out
}

// Int64s converts the value to int64 elements regardless of wire type.
func (v LogValue) Int64s() []int64 {
	if v.Ints != nil {
		return v.Ints
	}
	out := make([]int64, 0, v.Len())
	for _, x := range v.Uints {
		out = append(out, int64(x))
	}
	for _, x := range v.Reals {
		out = append(out, int64(x))
	}
	return out
}

// Uint64s converts the value to uint64 elements regardless of wire type.
func (v LogValue) Uint64s() []uint64 {
	if v.Uints != nil {
		return v.Uints
	}
	out := make([]uint64, 0, v.Len())
	for _, x := range v.Ints {
		out = append(out, uint64(x))
	}
	for _, x := range v.Reals {
		out = append(out, uint64(x))
	}
	return out
}

// LogData is a decoded f142 sample.
type LogData struct {
	SourceName string
	// TimestampNS is the producer timestamp in nanoseconds since epoch.
	TimestampNS   uint64
	Value         LogValue
	AlarmStatus   byte
	AlarmSeverity byte
}

// Time converts the producer timestamp to a time.Time.
func (d LogData) Time() time.Time {
	return time.Unix(0, int64(d.TimestampNS))
}

// DecodeLogData extracts an f142 sample.
func DecodeLogData(payload []byte) (LogData, error) {
	tab, err := verifyTable(payload, LogDataID)
	if err != nil {
		return LogData{}, fmt.Errorf("f142 extraction failed: %w", err)
	}
	msg := LogData{
		SourceName:    tableString(tab, logDataSlotSourceName),
		TimestampNS:   tableUint64(tab, logDataSlotTimestamp),
		AlarmStatus:   tableByte(tab, logDataSlotStatus),
		AlarmSeverity: tableByte(tab, logDataSlotSeverity),
	}
	if msg.SourceName == "" {
		return LogData{}, fmt.Errorf("f142 extraction failed: source name missing")
	}

	kind := ValueKind(tableByte(tab, logDataSlotValueType))
	if kind == ValueNone {
		return LogData{}, fmt.Errorf("f142 extraction failed: value union missing")
	}
	o := flatbuffers.UOffsetT(tab.Offset(logDataSlotValue))
	if o == 0 {
		return LogData{}, fmt.Errorf("f142 extraction failed: value union missing")
	}
	var member flatbuffers.Table
	tab.Union(&member, o)
	value, err := decodeLogValue(&member, kind)
	if err != nil {
		return LogData{}, err
	}
	msg.Value = value
	return msg, nil
}

func decodeLogValue(member *flatbuffers.Table, kind ValueKind) (LogValue, error) {
	v := LogValue{Kind: kind}
	vo := flatbuffers.UOffsetT(member.Offset(4))
	if vo == 0 {
		// Default-valued scalar member; arrays decode to empty.
		switch kind {
		case ValueByte, ValueShort, ValueInt, ValueLong:
			v.Ints = []int64{0}
		case ValueUByte, ValueUShort, ValueUInt, ValueULong:
			v.Uints = []uint64{0}
		case ValueFloat, ValueDouble:
			v.Reals = []float64{0}
		}
		return v, nil
	}
	pos := vo + member.Pos
	switch kind {
	case ValueByte:
		v.Ints = []int64{int64(int8(member.GetByte(pos)))}
	case ValueUByte:
		v.Uints = []uint64{uint64(member.GetByte(pos))}
	case ValueShort:
		v.Ints = []int64{int64(member.GetInt16(pos))}
	case ValueUShort:
		v.Uints = []uint64{uint64(member.GetUint16(pos))}
	case ValueInt:
		v.Ints = []int64{int64(member.GetInt32(pos))}
	case ValueUInt:
		v.Uints = []uint64{uint64(member.GetUint32(pos))}
	case ValueLong:
		v.Ints = []int64{member.GetInt64(pos)}
	case ValueULong:
		v.Uints = []uint64{member.GetUint64(pos)}
	case ValueFloat:
		v.Reals = []float64{float64(member.GetFloat32(pos))}
	case ValueDouble:
		v.Reals = []float64{member.GetFloat64(pos)}
	case ValueArrayByte, ValueArrayShort, ValueArrayInt, ValueArrayLong:
		v.Ints = decodeIntVector(member, vo, kind)
	case ValueArrayUByte, ValueArrayUShort, ValueArrayUInt, ValueArrayULong:
		v.Uints = decodeUintVector(member, vo, kind)
	case ValueArrayFloat, ValueArrayDouble:
		v.Reals = decodeRealVector(member, vo, kind)
	default:
		return LogValue{}, fmt.Errorf("f142 extraction failed: unsupported value kind %d", kind)
	}
	return v, nil
}

func decodeIntVector(member *flatbuffers.Table, vo flatbuffers.UOffsetT, kind ValueKind) []int64 {
	n := member.VectorLen(vo)
	a := member.Vector(vo)
	out := make([]int64, n)
	for j := 0; j < n; j++ {
		switch kind {
		case ValueArrayByte:
			out[j] = int64(int8(member.GetByte(a + flatbuffers.UOffsetT(j))))
		case ValueArrayShort:
			out[j] = int64(member.GetInt16(a + flatbuffers.UOffsetT(j*2)))
		case ValueArrayInt:
			out[j] = int64(member.GetInt32(a + flatbuffers.UOffsetT(j*4)))
		case ValueArrayLong:
			out[j] = member.GetInt64(a + flatbuffers.UOffsetT(j*8))
		}
	}
	return out
}

func decodeUintVector(member *flatbuffers.Table, vo flatbuffers.UOffsetT, kind ValueKind) []uint64 {
	n := member.VectorLen(vo)
	a := member.Vector(vo)
	out := make([]uint64, n)
	for j := 0; j < n; j++ {
		switch kind {
		case ValueArrayUByte:
			out[j] = uint64(member.GetByte(a + flatbuffers.UOffsetT(j)))
		case ValueArrayUShort:
			out[j] = uint64(member.GetUint16(a + flatbuffers.UOffsetT(j*2)))
		case ValueArrayUInt:
			out[j] = uint64(member.GetUint32(a + flatbuffers.UOffsetT(j*4)))
		case ValueArrayULong:
			out[j] = member.GetUint64(a + flatbuffers.UOffsetT(j*8))
		}
	}
	return out
}

func decodeRealVector(member *flatbuffers.Table, vo flatbuffers.UOffsetT, kind ValueKind) []float64 {
	n := member.VectorLen(vo)
	a := member.Vector(vo)
	out := make([]float64, n)
	for j := 0; j < n; j++ {
		if kind == ValueArrayFloat {
			out[j] = float64(member.GetFloat32(a + flatbuffers.UOffsetT(j*4)))
		} else {
			out[j] = member.GetFloat64(a + flatbuffers.UOffsetT(j*8))
		}
	}
	return out
}

// EncodeLogDataArgs are the wire fields of an f142 sample. Exactly one of
// the value fields is encoded, chosen by Kind.
type EncodeLogDataArgs struct {
	SourceName    string
	TimestampNS   uint64
	Kind          ValueKind
	Ints          []int64
	Uints         []uint64
	Reals         []float64
	AlarmStatus   byte
	AlarmSeverity byte
}

// EncodeLogDataDouble builds a scalar double sample; the common test path.
func EncodeLogDataDouble(source string, timestampNS uint64, value float64) []byte {
	return EncodeLogData(EncodeLogDataArgs{
		SourceName:  source,
		TimestampNS: timestampNS,
		Kind:        ValueDouble,
		Reals:       []float64{value},
	})
}

// EncodeLogData builds an f142 buffer.
func EncodeLogData(args EncodeLogDataArgs) []byte {
	b := flatbuffers.NewBuilder(256)
	member := encodeLogValue(b, args)
	source := b.CreateString(args.SourceName)

	b.StartObject(logDataNumSlots)
	b.PrependUOffsetTSlot(slotIndex(logDataSlotSourceName), source, 0)
	b.PrependByteSlot(slotIndex(logDataSlotValueType), byte(args.Kind), 0)
	b.PrependUOffsetTSlot(slotIndex(logDataSlotValue), member, 0)
	b.PrependUint64Slot(slotIndex(logDataSlotTimestamp), args.TimestampNS, 0)
	b.PrependByteSlot(slotIndex(logDataSlotStatus), args.AlarmStatus, 0)
	b.PrependByteSlot(slotIndex(logDataSlotSeverity), args.AlarmSeverity, 0)
	root := b.EndObject()
	b.FinishWithFileIdentifier(root, []byte(LogDataID))
	return b.FinishedBytes()
}

func encodeLogValue(b *flatbuffers.Builder, args EncodeLogDataArgs) flatbuffers.UOffsetT {
	var vector flatbuffers.UOffsetT
	if args.Kind.IsArray() {
		vector = encodeValueVector(b, args)
	}
	b.StartObject(1)
	switch args.Kind {
	case ValueByte:
		b.PrependInt8Slot(0, int8(scalarInt(args.Ints)), 0)
	case ValueUByte:
		b.PrependByteSlot(0, byte(scalarUint(args.Uints)), 0)
	case ValueShort:
		b.PrependInt16Slot(0, int16(scalarInt(args.Ints)), 0)
	case ValueUShort:
		b.PrependUint16Slot(0, uint16(scalarUint(args.Uints)), 0)
	case ValueInt:
		b.PrependInt32Slot(0, int32(scalarInt(args.Ints)), 0)
	case ValueUInt:
		b.PrependUint32Slot(0, uint32(scalarUint(args.Uints)), 0)
	case ValueLong:
		b.PrependInt64Slot(0, scalarInt(args.Ints), 0)
	case ValueULong:
		b.PrependUint64Slot(0, scalarUint(args.Uints), 0)
	case ValueFloat:
		b.PrependFloat32Slot(0, float32(scalarReal(args.Reals)), 0)
	case ValueDouble:
		b.PrependFloat64Slot(0, scalarReal(args.Reals), 0)
	default:
		b.PrependUOffsetTSlot(0, vector, 0)
	}
	return b.EndObject()
}

func encodeValueVector(b *flatbuffers.Builder, args EncodeLogDataArgs) flatbuffers.UOffsetT {
	switch args.Kind {
	case ValueArrayByte:
		b.StartVector(1, len(args.Ints), 1)
		for j := len(args.Ints) - 1; j >= 0; j-- {
			b.PrependInt8(int8(args.Ints[j]))
		}
		return b.EndVector(len(args.Ints))
	case ValueArrayUByte:
		b.StartVector(1, len(args.Uints), 1)
		for j := len(args.Uints) - 1; j >= 0; j-- {
			b.PrependByte(byte(args.Uints[j]))
		}
		return b.EndVector(len(args.Uints))
	case ValueArrayShort:
		b.StartVector(2, len(args.Ints), 2)
		for j := len(args.Ints) - 1; j >= 0; j-- {
			b.PrependInt16(int16(args.Ints[j]))
		}
		return b.EndVector(len(args.Ints))
	case ValueArrayUShort:
		b.StartVector(2, len(args.Uints), 2)
		for j := len(args.Uints) - 1; j >= 0; j-- {
			b.PrependUint16(uint16(args.Uints[j]))
		}
		return b.EndVector(len(args.Uints))
	case ValueArrayInt:
		b.StartVector(4, len(args.Ints), 4)
		for j := len(args.Ints) - 1; j >= 0; j-- {
			b.PrependInt32(int32(args.Ints[j]))
		}
		return b.EndVector(len(args.Ints))
	case ValueArrayUInt:
		b.StartVector(4, len(args.Uints), 4)
		for j := len(args.Uints) - 1; j >= 0; j-- {
			b.PrependUint32(uint32(args.Uints[j]))
		}
		return b.EndVector(len(args.Uints))
	case ValueArrayLong:
		b.StartVector(8, len(args.Ints), 8)
		for j := len(args.Ints) - 1; j >= 0; j-- {
			b.PrependInt64(args.Ints[j])
		}
		return b.EndVector(len(args.Ints))
	case ValueArrayULong:
		b.StartVector(8, len(args.Uints), 8)
		for j := len(args.Uints) - 1; j >= 0; j-- {
			b.PrependUint64(args.Uints[j])
		}
		return b.EndVector(len(args.Uints))
	case ValueArrayFloat:
		b.StartVector(4, len(args.Reals), 4)
		for j := len(args.Reals) - 1; j >= 0; j-- {
			b.PrependFloat32(float32(args.Reals[j]))
		}
		return b.EndVector(len(args.Reals))
	case ValueArrayDouble:
		b.StartVector(8, len(args.Reals), 8)
		for j := len(args.Reals) - 1; j >= 0; j-- {
			b.PrependFloat64(args.Reals[j])
		}
		return b.EndVector(len(args.Reals))
	default:
		return 0
	}
}

func scalarInt(v []int64) int64 {
	if len(v) == 0 {
		return 0
	}
	return v[0]
}

func scalarUint(v []uint64) uint64 {
	if len(v) == 0 {
		return 0
	}
	return v[0]
}

func scalarReal(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return v[0]
}
