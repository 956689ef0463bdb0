// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package supervisor builds the suture tree that keeps the long-running
// services alive: the master loop (control layer) and the observability
// server. Failure isolation matters here — a crashing HTTP listener must
// not take the command plane down with it.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tuning.
type TreeConfig struct {
	// FailureThreshold is the failure count before backoff. Default: 5.
	FailureThreshold float64
	// FailureDecay is the failure decay rate in seconds. Default: 30.
	FailureDecay float64
	// FailureBackoff is the pause once the threshold trips. Default: 15s.
	FailureBackoff time.Duration
	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns suture's documented defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the nexusd supervision tree.
type Tree struct {
	root          *suture.Supervisor
	control       *suture.Supervisor
	observability *suture.Supervisor
}

// NewTree builds the two-layer tree.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	handler := &sutureslog.Handler{Logger: logger}
	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("nexusd", rootSpec)
	control := suture.New("control-layer", childSpec)
	observability := suture.New("observability-layer", childSpec)
	root.Add(control)
	root.Add(observability)
	return &Tree{root: root, control: control, observability: observability}
}

// AddControl attaches a service to the control layer.
func (t *Tree) AddControl(service suture.Service) suture.ServiceToken {
	return t.control.Add(service)
}

// AddObservability attaches a service to the observability layer.
func (t *Tree) AddObservability(service suture.Service) suture.ServiceToken {
	return t.observability.Add(service)
}

// Serve runs the tree until the context is cancelled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServiceFunc adapts a function to the suture service contract.
type ServiceFunc struct {
	Name string
	Run  func(ctx context.Context) error
}

// Serve implements suture.Service.
func (s ServiceFunc) Serve(ctx context.Context) error { return s.Run(ctx) }

// String implements fmt.Stringer for supervisor logs.
func (s ServiceFunc) String() string { return s.Name }
