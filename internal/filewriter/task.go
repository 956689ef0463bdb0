// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package filewriter owns the output file of one write job: the
// FileWriterTask holds the file handle and the ordered list of sources,
// and the initialization code performs the two-phase create/reopen
// protocol over the nexus structure.
package filewriter

import (
	"fmt"
	"strings"

	"github.com/mfalkenberg/nexusd/internal/hdf"
	"github.com/mfalkenberg/nexusd/internal/wire"
	"github.com/mfalkenberg/nexusd/internal/writer"
)

// Source binds a (source name, schema, topic) triple to its writer-module
// instance inside an active job. The task owns the source; its module
// owns the open dataset handles.
type Source struct {
	Name     string
	SchemaID string
	Topic    string
	Module   writer.Module
}

// Key returns the demultiplexer routing key of the source.
func (s Source) Key() wire.Key {
	return wire.Key{SourceName: s.Name, SchemaID: s.SchemaID}
}

// Task is the per-job owner of the output file.
type Task struct {
	jobID    string
	filename string
	file     hdf.File
	sources  []Source
}

// NewTask wraps a reopened file. Sources are added as their modules
// survive the reopen phase.
func NewTask(jobID, filename string, file hdf.File) *Task {
	return &Task{jobID: jobID, filename: filename, file: file}
}

// JobID returns the job identifier.
func (t *Task) JobID() string { return t.jobID }

// Filename returns the file path being written.
func (t *Task) Filename() string { return t.filename }

// AddSource appends a source; order is preserved.
func (t *Task) AddSource(s Source) { t.sources = append(t.sources, s) }

// Sources returns the task's sources.
func (t *Task) Sources() []Source { return t.sources }

// Flush pushes buffered data to the file layer.
func (t *Task) Flush() error {
	if t.file == nil {
		return nil
	}
	return t.file.Flush()
}

// Close flushes and closes the output file.
func (t *Task) Close() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// openGroupPath walks a slash-separated absolute path from the file root.
func openGroupPath(root hdf.Group, groupPath string) (hdf.Group, error) {
	current := root
	for _, segment := range strings.Split(groupPath, "/") {
		if segment == "" {
			continue
		}
		next, err := current.OpenGroup(segment)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", groupPath, err)
		}
		current = next
	}
	return current, nil
}
