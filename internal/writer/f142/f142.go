// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package f142 writes slow-control log samples (EPICS PV updates) into an
// NXlog group: a value dataset of the configured element type, a
// nanosecond time dataset, sparse cue datasets for seeking, and alarm
// datasets appended on alarm transitions.
package f142

import (
	"fmt"
	"math"

	"github.com/goccy/go-json"

	"github.com/mfalkenberg/nexusd/internal/hdf"
	"github.com/mfalkenberg/nexusd/internal/nexus"
	"github.com/mfalkenberg/nexusd/internal/wire"
	"github.com/mfalkenberg/nexusd/internal/writer"
)

func init() {
	writer.MustRegister(wire.LogDataID, func() writer.Module { return &Writer{} })
}

const defaultChunkSize = 64 * 1024

// Writer is the f142 writer module.
type Writer struct {
	dtype       hdf.DType
	arraySize   int
	chunkSize   int
	cueInterval uint64
	valueUnits  string

	value            hdf.Dataset
	time             hdf.Dataset
	cueIndex         hdf.Dataset
	cueTimestampZero hdf.Dataset
	alarmTime        hdf.Dataset
	alarmStatus      hdf.Dataset
	alarmSeverity    hdf.Dataset

	rowsWritten     uint64
	rowsSinceCue    uint64
}

type config struct {
	Type        *string `json:"type"`
	DType       *string `json:"dtype"`
	ArraySize   *int    `json:"array_size"`
	ChunkSize   *int    `json:"chunk_size"`
	CueInterval *uint64 `json:"cue_interval"`
	ValueUnits  *string `json:"value_units"`
}

// ParseConfig implements writer.Module.
func (w *Writer) ParseConfig(raw json.RawMessage) error {
	w.dtype = hdf.Float64
	w.arraySize = 1
	w.chunkSize = defaultChunkSize
	w.cueInterval = math.MaxUint64
	w.valueUnits = ""

	if len(raw) == 0 {
		return nil
	}
	var cfg config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("%w: f142: %v", writer.ErrBadConfig, err)
	}
	typeName := ""
	if cfg.Type != nil {
		typeName = *cfg.Type
	}
	if cfg.DType != nil {
		typeName = *cfg.DType
	}
	if typeName != "" {
		dtype, err := hdf.ParseDType(typeName)
		if err != nil {
			return fmt.Errorf("%w: f142: %v", writer.ErrBadConfig, err)
		}
		w.dtype = dtype
	}
	if cfg.ArraySize != nil {
		if *cfg.ArraySize < 1 {
			return fmt.Errorf("%w: f142: array_size must be positive", writer.ErrBadConfig)
		}
		w.arraySize = *cfg.ArraySize
	}
	if cfg.ChunkSize != nil {
		if *cfg.ChunkSize < 1 {
			return fmt.Errorf("%w: f142: chunk_size must be positive", writer.ErrBadConfig)
		}
		w.chunkSize = *cfg.ChunkSize
	}
	if cfg.CueInterval != nil {
		if *cfg.CueInterval == 0 {
			return fmt.Errorf("%w: f142: cue_interval must be positive", writer.ErrBadConfig)
		}
		w.cueInterval = *cfg.CueInterval
	}
	if cfg.ValueUnits != nil {
		w.valueUnits = *cfg.ValueUnits
	}
	return nil
}

func (w *Writer) elementShape() []int {
	if w.arraySize > 1 {
		return []int{w.arraySize}
	}
	return nil
}

// CreateDatasets implements writer.Module.
func (w *Writer) CreateDatasets(parent hdf.Group, attributes json.RawMessage) error {
	if err := writer.SetNXClass(parent, "NXlog"); err != nil {
		return err
	}
	value, err := parent.CreateDataset("value", w.dtype, w.elementShape(), w.chunkSize)
	if err != nil {
		return fmt.Errorf("f142 create value: %w", err)
	}
	if w.valueUnits != "" {
		if err := value.SetAttribute("units", w.valueUnits); err != nil {
			return err
		}
	}
	if _, err := parent.CreateDataset("time", hdf.Uint64, nil, w.chunkSize); err != nil {
		return fmt.Errorf("f142 create time: %w", err)
	}
	if _, err := parent.CreateDataset("cue_index", hdf.Uint32, nil, 1024); err != nil {
		return fmt.Errorf("f142 create cue_index: %w", err)
	}
	if _, err := parent.CreateDataset("cue_timestamp_zero", hdf.Uint64, nil, 1024); err != nil {
		return fmt.Errorf("f142 create cue_timestamp_zero: %w", err)
	}
	if _, err := parent.CreateDataset("alarm_time", hdf.Int64, nil, 256); err != nil {
		return fmt.Errorf("f142 create alarm_time: %w", err)
	}
	if _, err := parent.CreateDataset("alarm_status", hdf.Uint8, nil, 256); err != nil {
		return fmt.Errorf("f142 create alarm_status: %w", err)
	}
	if _, err := parent.CreateDataset("alarm_severity", hdf.Uint8, nil, 256); err != nil {
		return fmt.Errorf("f142 create alarm_severity: %w", err)
	}
	if len(attributes) > 0 {
		if err := nexus.WriteAttributes(parent, attributes); err != nil {
			return err
		}
	}
	return nil
}

// Reopen implements writer.Module.
func (w *Writer) Reopen(parent hdf.Group) error {
	open := func(name string) (hdf.Dataset, error) {
		ds, err := parent.OpenDataset(name)
		if err != nil {
			return nil, fmt.Errorf("f142 reopen %s: %w", name, err)
		}
		return ds, nil
	}
	var err error
	if w.value, err = open("value"); err != nil {
		return err
	}
	if w.time, err = open("time"); err != nil {
		return err
	}
	if w.cueIndex, err = open("cue_index"); err != nil {
		return err
	}
	if w.cueTimestampZero, err = open("cue_timestamp_zero"); err != nil {
		return err
	}
	if w.alarmTime, err = open("alarm_time"); err != nil {
		return err
	}
	if w.alarmStatus, err = open("alarm_status"); err != nil {
		return err
	}
	if w.alarmSeverity, err = open("alarm_severity"); err != nil {
		return err
	}
	w.rowsWritten = w.value.Rows()
	w.rowsSinceCue = 0
	return nil
}

// Write implements writer.Module.
func (w *Writer) Write(payload []byte) error {
	msg, err := wire.DecodeLogData(payload)
	if err != nil {
		return err
	}
	if got := msg.Value.Len(); got != w.arraySize && !(w.arraySize == 1 && got == 1) {
		return fmt.Errorf("f142 write: value for %q has %d elements, dataset expects %d",
			msg.SourceName, got, w.arraySize)
	}

	if err := w.appendValue(msg.Value); err != nil {
		return err
	}
	if err := w.time.AppendUints([]uint64{msg.TimestampNS}); err != nil {
		return err
	}
	w.rowsWritten++
	w.rowsSinceCue++

	if msg.AlarmStatus != wire.AlarmNoChange {
		if err := w.alarmTime.AppendInts([]int64{int64(msg.TimestampNS)}); err != nil {
			return err
		}
		if err := w.alarmStatus.AppendUints([]uint64{uint64(msg.AlarmStatus)}); err != nil {
			return err
		}
		if err := w.alarmSeverity.AppendUints([]uint64{uint64(msg.AlarmSeverity)}); err != nil {
			return err
		}
	}

	if w.rowsSinceCue >= w.cueInterval {
		if err := w.cueIndex.AppendUints([]uint64{w.rowsWritten - 1}); err != nil {
			return err
		}
		if err := w.cueTimestampZero.AppendUints([]uint64{msg.TimestampNS}); err != nil {
			return err
		}
		w.rowsSinceCue = 0
	}
	return nil
}

func (w *Writer) appendValue(v wire.LogValue) error {
	switch w.dtype {
	case hdf.Float32, hdf.Float64:
		return w.value.AppendFloats(v.Float64s())
	case hdf.Uint8, hdf.Uint16, hdf.Uint32, hdf.Uint64:
		return w.value.AppendUints(v.Uint64s())
	default:
		return w.value.AppendInts(v.Int64s())
	}
}

// Flush implements writer.Module; appends go straight to the file layer.
func (w *Writer) Flush() error { return nil }
