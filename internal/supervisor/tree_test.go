// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mfalkenberg/nexusd/internal/logging"
)

func TestTreeRunsAndStopsServices(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())

	var ticks atomic.Int64
	tree.AddControl(ServiceFunc{
		Name: "ticker",
		Run: func(ctx context.Context) error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(5 * time.Millisecond):
					ticks.Add(1)
				}
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tree.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not shut down")
	}
	if ticks.Load() == 0 {
		t.Error("service never ran")
	}
}

func TestTreeRestartsFailingService(t *testing.T) {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree := NewTree(logging.NewSlogLogger(), cfg)

	var runs atomic.Int64
	tree.AddObservability(ServiceFunc{
		Name: "flaky",
		Run: func(ctx context.Context) error {
			if runs.Add(1) < 3 {
				return errors.New("transient failure")
			}
			<-ctx.Done()
			return ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tree.Serve(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if runs.Load() < 3 {
		t.Errorf("runs = %d, want restarts to reach 3", runs.Load())
	}
}
