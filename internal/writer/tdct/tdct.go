// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package tdct writes chopper top-dead-center timestamp batches into an
// NXlog group with a single nanosecond time dataset.
package tdct

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/mfalkenberg/nexusd/internal/hdf"
	"github.com/mfalkenberg/nexusd/internal/nexus"
	"github.com/mfalkenberg/nexusd/internal/wire"
	"github.com/mfalkenberg/nexusd/internal/writer"
)

func init() {
	writer.MustRegister(wire.ChopperID, func() writer.Module { return &Writer{} })
}

const defaultChunkSize = 4096

// Writer is the tdct writer module.
type Writer struct {
	chunkSize int
	time      hdf.Dataset
}

type config struct {
	ChunkSize *int `json:"chunk_size"`
}

// ParseConfig implements writer.Module.
func (w *Writer) ParseConfig(raw json.RawMessage) error {
	w.chunkSize = defaultChunkSize
	if len(raw) == 0 {
		return nil
	}
	var cfg config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("%w: tdct: %v", writer.ErrBadConfig, err)
	}
	if cfg.ChunkSize != nil {
		if *cfg.ChunkSize < 1 {
			return fmt.Errorf("%w: tdct: chunk_size must be positive", writer.ErrBadConfig)
		}
		w.chunkSize = *cfg.ChunkSize
	}
	return nil
}

// CreateDatasets implements writer.Module.
func (w *Writer) CreateDatasets(parent hdf.Group, attributes json.RawMessage) error {
	if err := writer.SetNXClass(parent, "NXlog"); err != nil {
		return err
	}
	if _, err := parent.CreateDataset("time", hdf.Uint64, nil, w.chunkSize); err != nil {
		return fmt.Errorf("tdct create time: %w", err)
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
	ds, err := parent.OpenDataset("time")
	if err != nil {
		return fmt.Errorf("tdct reopen time: %w", err)
	}
	w.time = ds
	return nil
}

// Write implements writer.Module.
func (w *Writer) Write(payload []byte) error {
	msg, err := wire.DecodeChopperTimestamps(payload)
	if err != nil {
		return err
	}
	timestamps := make([]uint64, len(msg.TimestampsNS))
	for i, ts := range msg.TimestampsNS {
		timestamps[i] = uint64(ts)
	}
	return w.time.AppendUints(timestamps)
}

// Flush implements writer.Module; appends go straight to the file layer.
func (w *Writer) Flush() error { return nil }
