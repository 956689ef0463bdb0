// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package nexus parses the nexus_structure JSON of a start command and
// instantiates the file skeleton: groups, static datasets and attributes.
// Stream placeholder nodes are not written; they are collected with their
// parent path so the job factory can hand each one to its writer module.
package nexus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/mfalkenberg/nexusd/internal/hdf"
	"github.com/mfalkenberg/nexusd/internal/logging"
)

// ErrParse marks a malformed nexus structure. A job start fails on it.
var ErrParse = errors.New("nexus structure parse error")

// StreamInfo is a stream placeholder found in the structure: the binding
// between a broker (topic, source) pair and a location in the file.
type StreamInfo struct {
	// ParentPath is the absolute path of the group the placeholder sits
	// in; writer modules create their datasets under it.
	ParentPath string
	Module     string
	Topic      string
	Source     string
	// RunParallel marks sources that may be handed to a parallel writer.
	RunParallel bool
	// Config is the module-specific option fragment, passed verbatim to
	// the module's parse-config.
	Config json.RawMessage
	// Attributes is the placeholder's attribute payload, passed to the
	// module's create-datasets.
	Attributes json.RawMessage
}

// node is the recognized shape of one structure-tree node.
type node struct {
	Type       string          `json:"type"`
	Name       string          `json:"name"`
	Children   []json.RawMessage `json:"children"`
	Attributes json.RawMessage `json:"attributes"`
	Module     string          `json:"module"`
	Config     json.RawMessage `json:"config"`
	// Legacy static-dataset form.
	Values  json.RawMessage `json:"values"`
	Dataset json.RawMessage `json:"dataset"`
}

// streamConfig is the part of a stream config fragment the structure
// walker itself needs; writer modules parse the rest.
type streamConfig struct {
	Topic        string `json:"topic"`
	Source       string `json:"source"`
	WriterModule string `json:"writer_module"`
	// Module is the deprecated alias for writer_module.
	Module      string `json:"module"`
	RunParallel bool   `json:"run_parallel"`
}

var deprecatedModuleKeyOnce sync.Once

// BuildStructure walks the structure JSON, creates groups, attributes and
// static datasets under root, and returns the stream placeholders in
// document order.
func BuildStructure(root hdf.Group, structureJSON string) ([]StreamInfo, error) {
	var top node
	if err := json.Unmarshal([]byte(structureJSON), &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	var streams []StreamInfo
	if err := walkChildren(root, top.Children, &streams); err != nil {
		return nil, err
	}
	return streams, nil
}

func walkChildren(parent hdf.Group, children []json.RawMessage, streams *[]StreamInfo) error {
	for _, raw := range children {
		var child node
		if err := json.Unmarshal(raw, &child); err != nil {
			return fmt.Errorf("%w: %v", ErrParse, err)
		}
		if err := walkNode(parent, &child, streams); err != nil {
			return err
		}
	}
	return nil
}

func walkNode(parent hdf.Group, n *node, streams *[]StreamInfo) error {
	switch {
	case n.Module == "dataset":
		return writeStaticDataset(parent, n)
	case n.Module != "" || len(n.Config) > 0:
		return collectStream(parent, n, streams)
	case n.Type == "group" || (n.Type == "" && n.Name != ""):
		return writeGroup(parent, n, streams)
	case n.Type == "dataset":
		return writeStaticDataset(parent, n)
	default:
		logging.Warn().
			Str("parent", parent.Path()).
			Str("type", n.Type).
			Msg("skipping unrecognized nexus structure node")
		return nil
	}
}

func writeGroup(parent hdf.Group, n *node, streams *[]StreamInfo) error {
	if n.Name == "" {
		return fmt.Errorf("%w: group node without a name under %q", ErrParse, parent.Path())
	}
	group, err := parent.CreateGroup(n.Name)
	if err != nil {
		if errors.Is(err, hdf.ErrExists) {
			group, err = parent.OpenGroup(n.Name)
		}
		if err != nil {
			return fmt.Errorf("create group %q under %q: %w", n.Name, parent.Path(), err)
		}
	}
	if len(n.Attributes) > 0 {
		if err := WriteAttributes(group, n.Attributes); err != nil {
			return err
		}
	}
	return walkChildren(group, n.Children, streams)
}

func collectStream(parent hdf.Group, n *node, streams *[]StreamInfo) error {
	var cfg streamConfig
	if len(n.Config) > 0 {
		if err := json.Unmarshal(n.Config, &cfg); err != nil {
			return fmt.Errorf("%w: stream config under %q: %v", ErrParse, parent.Path(), err)
		}
	}
	module := n.Module
	if cfg.WriterModule != "" {
		module = cfg.WriterModule
	} else if cfg.Module != "" {
		module = cfg.Module
		deprecatedModuleKeyOnce.Do(func() {
			logging.Warn().Msg(
				`the "module" key inside a stream config is deprecated, use "writer_module"`)
		})
	}
	if module == "" || cfg.Topic == "" || cfg.Source == "" {
		logging.Warn().
			Str("parent", parent.Path()).
			Str("module", module).
			Str("topic", cfg.Topic).
			Str("source", cfg.Source).
			Msg("skipping stream placeholder without module, topic or source")
		return nil
	}
	*streams = append(*streams, StreamInfo{
		ParentPath:  parent.Path(),
		Module:      module,
		Topic:       cfg.Topic,
		Source:      cfg.Source,
		RunParallel: cfg.RunParallel,
		Config:      n.Config,
		Attributes:  n.Attributes,
	})
	return nil
}
