// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package master

import (
	"context"
	"fmt"

	"github.com/mfalkenberg/nexusd/internal/broker"
	"github.com/mfalkenberg/nexusd/internal/filewriter"
	"github.com/mfalkenberg/nexusd/internal/hdf"
	"github.com/mfalkenberg/nexusd/internal/stream"
	"github.com/mfalkenberg/nexusd/internal/wire"
	"github.com/mfalkenberg/nexusd/internal/writer"
)

// Creator is the production JobCreator: file initialization followed by
// stream-controller construction.
type Creator struct {
	log      broker.Log
	backend  hdf.Backend
	registry *writer.Registry
	// filePrefix is joined with the commanded filename; empty uses the
	// filename verbatim.
	filePrefix string
	// defaults carries the job-independent streaming parameters; start
	// and stop come from each command.
	defaults stream.Options
}

// NewCreator wires a job factory.
func NewCreator(log broker.Log, backend hdf.Backend, registry *writer.Registry, filePrefix string, defaults stream.Options) *Creator {
	return &Creator{
		log:        log,
		backend:    backend,
		registry:   registry,
		filePrefix: filePrefix,
		defaults:   defaults,
	}
}

// CreateJob implements JobCreator.
func (c *Creator) CreateJob(ctx context.Context, msg wire.RunStart) (*stream.Controller, error) {
	path := filewriter.ResolvePath(c.filePrefix, msg.Filename)
	task, err := filewriter.InitializeFile(c.backend, c.registry, msg.JobID, path, msg.NexusStructure)
	if err != nil {
		return nil, err
	}

	opts := c.defaults
	opts.Start = msg.StartTime
	opts.Stop = msg.StopTime
	controller, err := stream.NewController(ctx, c.log, task, opts)
	if err != nil {
		_ = task.Close()
		return nil, fmt.Errorf("start stream controller for job %q: %w", msg.JobID, err)
	}
	return controller, nil
}
