// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package hdf is the hierarchical-file contract consumed by the writer
// modules: a tree of groups carrying attributes and appendable typed
// datasets, with the two-phase create/reopen lifecycle the job factory
// depends on.
//
// Two backends implement the contract. The native backend (always
// compiled) keeps the tree in memory and persists it as a JSON document
// on flush/close; it backs the unit tests and dry runs. The hdf5 backend
// (build tag "hdf5") writes real HDF5 files through the gonum bindings.
package hdf

import (
	"errors"
	"fmt"
)

// DType enumerates dataset element types.
type DType int

// Dataset element types.
const (
	Int8 DType = iota
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	String
)

// ParseDType maps the nexus-structure type names to a DType.
func ParseDType(name string) (DType, error) {
	switch name {
	case "int8", "byte":
		return Int8, nil
	case "int16", "short":
		return Int16, nil
	case "int32", "int":
		return Int32, nil
	case "int64", "long":
		return Int64, nil
	case "uint8", "ubyte":
		return Uint8, nil
	case "uint16", "ushort":
		return Uint16, nil
	case "uint32", "uint":
		return Uint32, nil
	case "uint64", "ulong":
		return Uint64, nil
	case "float", "float32":
		return Float32, nil
	case "double", "float64":
		return Float64, nil
	case "string":
		return String, nil
	default:
		return 0, fmt.Errorf("unknown dataset type %q", name)
	}
}

// String implements fmt.Stringer.
func (d DType) String() string {
	switch d {
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// Errors shared by the backends.
var (
	ErrExists     = errors.New("node already exists")
	ErrNotFound   = errors.New("node not found")
	ErrTypeClash  = errors.New("value type does not match dataset type")
	ErrFileClosed = errors.New("file is closed")
)

// Dataset is an appendable one-dimensional sequence of elements (or of
// fixed-shape rows when ElementShape is non-empty). Appends accept the Go
// slice matching the dataset's DType: []int64 for the signed integer
// types, []uint64 for unsigned, []float64 for floats, []string for
// strings. Backends narrow to the storage type on write.
type Dataset interface {
	Name() string
	DType() DType
	// ElementShape is empty for scalar elements; [n] stores rows of n.
	ElementShape() []int
	// Rows is the number of appended rows.
	Rows() uint64
	AppendInts(values []int64) error
	AppendUints(values []uint64) error
	AppendFloats(values []float64) error
	AppendStrings(values []string) error
	SetAttribute(name string, value any) error
}

// Group is a node in the file tree.
type Group interface {
	Name() string
	// Path is the absolute slash-separated path of the group.
	Path() string
	CreateGroup(name string) (Group, error)
	OpenGroup(name string) (Group, error)
	// CreateDataset creates an appendable dataset. chunk is the
	// per-append allocation hint in elements; backends may ignore it.
	CreateDataset(name string, dtype DType, elementShape []int, chunk int) (Dataset, error)
	OpenDataset(name string) (Dataset, error)
	SetAttribute(name string, value any) error
	Attribute(name string) (any, bool)
	HasChild(name string) bool
}

// File is the root group plus lifecycle operations.
type File interface {
	Group
	// FilePath is the path of the backing file on disk.
	FilePath() string
	// Flush pushes buffered data towards the file layer.
	Flush() error
	Close() error
}

// Backend creates and reopens files. Create fails when the target exists;
// Open reopens an existing file for appending (the second phase of the
// create/reopen protocol).
type Backend interface {
	Name() string
	Create(path string) (File, error)
	Open(path string) (File, error)
	// VersionCheck verifies the backing library at startup; a mismatch is
	// fatal for the process.
	VersionCheck() error
}

// NewBackend returns the backend for a configured name: "native" or
// "hdf5". The hdf5 backend is only available when built with the hdf5
// tag.
func NewBackend(name string) (Backend, error) {
	switch name {
	case "", "native":
		return NativeBackend{}, nil
	case "hdf5":
		return newHDF5Backend()
	default:
		return nil, fmt.Errorf("unknown hdf backend %q", name)
	}
}
