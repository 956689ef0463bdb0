// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package writer defines the writer-module contract and the process-wide
// module registry. A writer module knows one flatbuffer schema and how to
// lay its records out as datasets; the registry maps the four-character
// schema identifier to a factory producing fresh module instances.
package writer

import (
	"errors"

	"github.com/goccy/go-json"

	"github.com/mfalkenberg/nexusd/internal/hdf"
)

// Registry and configuration errors.
var (
	// ErrConflict marks a duplicate module registration.
	ErrConflict = errors.New("writer module already registered")
	// ErrUnknownModule marks a lookup of an unregistered identifier.
	ErrUnknownModule = errors.New("unknown writer module")
	// ErrBadConfig marks a malformed module option value.
	ErrBadConfig = errors.New("bad writer module configuration")
)

// Module is the per-schema strategy. Instances are single-threaded: after
// Reopen, only the message-writer thread calls Write and Flush.
//
// The lifecycle is two-phase. A first instance parses its configuration
// and creates the datasets during file initialization, then is discarded
// when the file is closed. A second instance parses the same
// configuration and reacquires the dataset handles from the reopened
// file.
type Module interface {
	// ParseConfig consumes the module-specific options of a stream
	// placeholder. It must be idempotent and must not touch the file.
	// Unknown keys are ignored; malformed values fail with ErrBadConfig.
	ParseConfig(config json.RawMessage) error
	// CreateDatasets creates the module's datasets as children of parent
	// and writes the NeXus class attribute unless one already exists.
	// attributes is the placeholder's attribute payload, applied to the
	// parent group. The module holds no handles after this returns; the
	// file is closed and reopened before writing starts.
	CreateDatasets(parent hdf.Group, attributes json.RawMessage) error
	// Reopen reacquires dataset handles from the existing structure.
	// Failure is fatal for this source but not for the job.
	Reopen(parent hdf.Group) error
	// Write appends one record. Auxiliary index datasets stay consistent
	// with the primary datasets after every call.
	Write(payload []byte) error
	// Flush requests that buffered data reach the file layer.
	Flush() error
}

// Factory produces a fresh, unconfigured module instance.
type Factory func() Module

// SetNXClass writes the module's NeXus class unless the group carries one.
func SetNXClass(parent hdf.Group, class string) error {
	if _, ok := parent.Attribute("NX_class"); ok {
		return nil
	}
	return parent.SetAttribute("NX_class", class)
}
