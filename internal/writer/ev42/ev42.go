// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package ev42 writes neutron detection events into an NXevent_data
// group. Each message is one pulse: event_time_zero and event_index grow
// by one entry, event_time_offset and event_id by the pulse's event
// count. Cue datasets index into the event datasets at a configurable
// byte interval.
package ev42

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/mfalkenberg/nexusd/internal/hdf"
	"github.com/mfalkenberg/nexusd/internal/nexus"
	"github.com/mfalkenberg/nexusd/internal/wire"
	"github.com/mfalkenberg/nexusd/internal/writer"
)

func init() {
	writer.MustRegister(wire.EventDataID, func() writer.Module { return &Writer{} })
}

const defaultChunkBytes = 1 << 20

// Writer is the ev42 writer module.
type Writer struct {
	chunkBytes        uint64
	indexIntervalByte uint64
	recordAdcDebug    bool

	eventTimeOffset  hdf.Dataset
	eventID          hdf.Dataset
	eventTimeZero    hdf.Dataset
	eventIndex       hdf.Dataset
	cueIndex         hdf.Dataset
	cueTimestampZero hdf.Dataset
	amplitude        hdf.Dataset
	peakArea         hdf.Dataset
	background       hdf.Dataset
	thresholdTime    hdf.Dataset
	peakTime         hdf.Dataset

	eventsWritten  uint64
	bytesSinceCue  uint64
}

type config struct {
	AdcPulseDebug *bool `json:"adc_pulse_debug"`
	Nexus         struct {
		Indices struct {
			IndexEveryKB *uint64 `json:"index_every_kb"`
			IndexEveryMB *uint64 `json:"index_every_mb"`
		} `json:"indices"`
		Chunk struct {
			ChunkKB *uint64 `json:"chunk_kb"`
			ChunkMB *uint64 `json:"chunk_mb"`
		} `json:"chunk"`
	} `json:"nexus"`
}

// ParseConfig implements writer.Module.
func (w *Writer) ParseConfig(raw json.RawMessage) error {
	w.chunkBytes = defaultChunkBytes
	w.indexIntervalByte = 0
	w.recordAdcDebug = false

	if len(raw) == 0 {
		return nil
	}
	var cfg config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("%w: ev42: %v", writer.ErrBadConfig, err)
	}
	if cfg.Nexus.Indices.IndexEveryKB != nil {
		w.indexIntervalByte = *cfg.Nexus.Indices.IndexEveryKB * 1024
	}
	if cfg.Nexus.Indices.IndexEveryMB != nil {
		w.indexIntervalByte = *cfg.Nexus.Indices.IndexEveryMB * 1024 * 1024
	}
	if cfg.Nexus.Chunk.ChunkKB != nil {
		w.chunkBytes = *cfg.Nexus.Chunk.ChunkKB * 1024
	}
	if cfg.Nexus.Chunk.ChunkMB != nil {
		w.chunkBytes = *cfg.Nexus.Chunk.ChunkMB * 1024 * 1024
	}
	if w.chunkBytes == 0 {
		return fmt.Errorf("%w: ev42: chunk size must be positive", writer.ErrBadConfig)
	}
	if cfg.AdcPulseDebug != nil {
		w.recordAdcDebug = *cfg.AdcPulseDebug
	}
	return nil
}

// CreateDatasets implements writer.Module.
func (w *Writer) CreateDatasets(parent hdf.Group, attributes json.RawMessage) error {
	if err := writer.SetNXClass(parent, "NXevent_data"); err != nil {
		return err
	}
	chunk32 := int(w.chunkBytes / 4)
	chunk64 := int(w.chunkBytes / 8)
	create := func(name string, dtype hdf.DType, chunk int) error {
		if _, err := parent.CreateDataset(name, dtype, nil, chunk); err != nil {
			return fmt.Errorf("ev42 create %s: %w", name, err)
		}
		return nil
	}
	if err := create("event_time_offset", hdf.Uint32, chunk32); err != nil {
		return err
	}
	if err := create("event_id", hdf.Uint32, chunk32); err != nil {
		return err
	}
	if err := create("event_time_zero", hdf.Uint64, chunk64); err != nil {
		return err
	}
	if err := create("event_index", hdf.Uint32, chunk32); err != nil {
		return err
	}
	if err := create("cue_index", hdf.Uint32, chunk32); err != nil {
		return err
	}
	if err := create("cue_timestamp_zero", hdf.Uint64, chunk64); err != nil {
		return err
	}
	if w.recordAdcDebug {
		if err := create("adc_pulse_amplitude", hdf.Uint32, chunk32); err != nil {
			return err
		}
		if err := create("adc_pulse_peak_area", hdf.Uint32, chunk32); err != nil {
			return err
		}
		if err := create("adc_pulse_background", hdf.Uint32, chunk32); err != nil {
			return err
		}
		if err := create("adc_pulse_threshold_time", hdf.Uint64, chunk64); err != nil {
			return err
		}
		if err := create("adc_pulse_peak_time", hdf.Uint64, chunk64); err != nil {
			return err
		}
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
			return nil, fmt.Errorf("ev42 reopen %s: %w", name, err)
		}
		return ds, nil
	}
	var err error
	if w.eventTimeOffset, err = open("event_time_offset"); err != nil {
		return err
	}
	if w.eventID, err = open("event_id"); err != nil {
		return err
	}
	if w.eventTimeZero, err = open("event_time_zero"); err != nil {
		return err
	}
	if w.eventIndex, err = open("event_index"); err != nil {
		return err
	}
	if w.cueIndex, err = open("cue_index"); err != nil {
		return err
	}
	if w.cueTimestampZero, err = open("cue_timestamp_zero"); err != nil {
		return err
	}
	if w.recordAdcDebug {
		if w.amplitude, err = open("adc_pulse_amplitude"); err != nil {
			return err
		}
		if w.peakArea, err = open("adc_pulse_peak_area"); err != nil {
			return err
		}
		if w.background, err = open("adc_pulse_background"); err != nil {
			return err
		}
		if w.thresholdTime, err = open("adc_pulse_threshold_time"); err != nil {
			return err
		}
		if w.peakTime, err = open("adc_pulse_peak_time"); err != nil {
			return err
		}
	}
	w.eventsWritten = w.eventTimeOffset.Rows()
	w.bytesSinceCue = 0
	return nil
}

// Write implements writer.Module.
func (w *Writer) Write(payload []byte) error {
	msg, err := wire.DecodeEventData(payload)
	if err != nil {
		return err
	}
	n := len(msg.TimeOfFlight)

	// event_index points at the first event of this pulse; it is
	// appended before the event vectors so a partial failure leaves the
	// index no further ahead than the data.
	if err := w.eventIndex.AppendUints([]uint64{w.eventsWritten}); err != nil {
		return err
	}
	if err := w.eventTimeZero.AppendUints([]uint64{msg.PulseTimeNS}); err != nil {
		return err
	}
	tof := make([]uint64, n)
	ids := make([]uint64, n)
	for i := 0; i < n; i++ {
		tof[i] = uint64(msg.TimeOfFlight[i])
		ids[i] = uint64(msg.DetectorID[i])
	}
	if err := w.eventTimeOffset.AppendUints(tof); err != nil {
		return err
	}
	if err := w.eventID.AppendUints(ids); err != nil {
		return err
	}
	w.eventsWritten += uint64(n)
	w.bytesSinceCue += uint64(n) * 8

	if w.indexIntervalByte > 0 && w.bytesSinceCue >= w.indexIntervalByte && w.eventsWritten > 0 {
		if err := w.cueIndex.AppendUints([]uint64{w.eventsWritten - 1}); err != nil {
			return err
		}
		if err := w.cueTimestampZero.AppendUints([]uint64{msg.PulseTimeNS}); err != nil {
			return err
		}
		w.bytesSinceCue = 0
	}
	return nil
}

// Flush implements writer.Module; appends go straight to the file layer.
func (w *Writer) Flush() error { return nil }
