// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package filewriter

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mfalkenberg/nexusd/internal/hdf"
	"github.com/mfalkenberg/nexusd/internal/logging"
	"github.com/mfalkenberg/nexusd/internal/nexus"
	"github.com/mfalkenberg/nexusd/internal/writer"
)

// ResolvePath joins the configured file prefix with the requested
// filename; an empty prefix uses the filename verbatim.
func ResolvePath(prefix, filename string) string {
	if prefix == "" {
		return filename
	}
	return filepath.Join(prefix, filename)
}

// InitializeFile performs the two-phase open. Phase one creates the file,
// instantiates the skeleton and lets each stream's module create its
// datasets; the file is then closed. Phase two reopens the file, gives
// each surviving stream a fresh module and reacquires the dataset
// handles. Errors on one stream skip that stream; they do not abort the
// job.
//
// The create-then-reopen split exists because the chunked/SWMR layout of
// the hdf5 backend requires the file to be closed and reopened before
// append paths are exercised; the native backend follows the same
// lifecycle.
func InitializeFile(backend hdf.Backend, registry *writer.Registry, jobID, path, structure string) (*Task, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf(
				"failed to initialize file %q: the directory %q does not exist", path, dir)
		}
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf(
			"failed to initialize file %q: a file with that name already exists, "+
				"delete the existing file or provide another filename", path)
	}

	logging.Info().Str("file", path).Str("job_id", jobID).Msg("creating output file")
	file, err := backend.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file %q: %w", path, err)
	}

	streams, err := nexus.BuildStructure(file, structure)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to initialize file %q: %w", path, err)
	}

	created := createStreamDatasets(file, registry, streams)
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file %q after initialization: %w", path, err)
	}

	reopened, err := backend.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to reopen file %q: %w", path, err)
	}
	task := NewTask(jobID, path, reopened)
	reopenStreamDatasets(reopened, registry, created, task)
	return task, nil
}

// createStreamDatasets runs phase one for every placeholder and returns
// the ones whose datasets exist in the file.
func createStreamDatasets(file hdf.File, registry *writer.Registry, streams []nexus.StreamInfo) []nexus.StreamInfo {
	var created []nexus.StreamInfo
	for _, stream := range streams {
		if err := createOneStream(file, registry, stream); err != nil {
			logging.Warn().Err(err).
				Str("module", stream.Module).
				Str("topic", stream.Topic).
				Str("source", stream.Source).
				Str("parent", stream.ParentPath).
				Msg("skipping stream: dataset creation failed")
			continue
		}
		created = append(created, stream)
	}
	return created
}

func createOneStream(file hdf.File, registry *writer.Registry, stream nexus.StreamInfo) error {
	factory, err := registry.Find(stream.Module)
	if err != nil {
		return err
	}
	module := factory()
	if err := module.ParseConfig(stream.Config); err != nil {
		return err
	}
	parent, err := openGroupPath(file, stream.ParentPath)
	if err != nil {
		return err
	}
	return module.CreateDatasets(parent, stream.Attributes)
}

// reopenStreamDatasets runs phase two, adding a source to the task for
// every module that reacquires its handles.
func reopenStreamDatasets(file hdf.File, registry *writer.Registry, streams []nexus.StreamInfo, task *Task) {
	for _, stream := range streams {
		factory, err := registry.Find(stream.Module)
		if err != nil {
			continue
		}
		module := factory()
		if err := module.ParseConfig(stream.Config); err != nil {
			logging.Warn().Err(err).Str("source", stream.Source).
				Msg("skipping source: config rejected at reopen")
			continue
		}
		parent, err := openGroupPath(file, stream.ParentPath)
		if err != nil {
			logging.Warn().Err(err).Str("source", stream.Source).
				Msg("skipping source: parent group missing at reopen")
			continue
		}
		if err := module.Reopen(parent); err != nil {
			logging.Warn().Err(err).
				Str("module", stream.Module).
				Str("source", stream.Source).
				Msg("skipping source: dataset reopen failed")
			continue
		}
		task.AddSource(Source{
			Name:     stream.Source,
			SchemaID: stream.Module,
			Topic:    stream.Topic,
			Module:   module,
		})
	}
}
