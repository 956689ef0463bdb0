// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package jobstore keeps a queryable history of terminal write jobs in
// DuckDB. The store is optional: builds without the duckdb tag, and
// deployments that disable it, use the no-op store.
package jobstore

import (
	"context"
	"errors"
	"time"
)

// ErrDisabled is returned by Open in builds without the duckdb tag.
var ErrDisabled = errors.New("job store requires building with -tags duckdb")

// Record is one terminal job.
type Record struct {
	ID          string
	JobID       string
	Filename    string
	StartTime   time.Time
	StopTime    time.Time
	Outcome     string
	WritesDone  int64
	WriteErrors int64
	CompletedAt time.Time
}

// Store persists terminal job records.
type Store interface {
	Insert(ctx context.Context, record Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// NopStore discards records; used when the history store is disabled.
type NopStore struct{}

// Insert implements Store.
func (NopStore) Insert(context.Context, Record) error { return nil }

// Recent implements Store.
func (NopStore) Recent(context.Context, int) ([]Record, error) { return nil, nil }

// Close implements Store.
func (NopStore) Close() error { return nil }
