// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

//go:build duckdb

package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS write_jobs (
    id           VARCHAR PRIMARY KEY,
    job_id       VARCHAR NOT NULL,
    filename     VARCHAR NOT NULL,
    start_time   TIMESTAMP,
    stop_time    TIMESTAMP,
    outcome      VARCHAR NOT NULL,
    writes_done  BIGINT NOT NULL,
    write_errors BIGINT NOT NULL,
    completed_at TIMESTAMP NOT NULL
)`

// duckStore is the DuckDB-backed job history.
type duckStore struct {
	db *sql.DB
}

// Open opens (or creates) the job-history database at path.
func Open(path string) (Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open job store %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize job store schema: %w", err)
	}
	return &duckStore{db: db}, nil
}

// Insert implements Store.
func (s *duckStore) Insert(ctx context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CompletedAt.IsZero() {
		record.CompletedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO write_jobs
		 (id, job_id, filename, start_time, stop_time, outcome, writes_done, write_errors, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.JobID, record.Filename,
		nullableTime(record.StartTime), nullableTime(record.StopTime),
		record.Outcome, record.WritesDone, record.WriteErrors, record.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert job record %q: %w", record.JobID, err)
	}
	return nil
}

// Recent implements Store.
func (s *duckStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, filename, start_time, stop_time, outcome,
		        writes_done, write_errors, completed_at
		 FROM write_jobs ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query job records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var start, stop sql.NullTime
		if err := rows.Scan(&r.ID, &r.JobID, &r.Filename, &start, &stop,
			&r.Outcome, &r.WritesDone, &r.WriteErrors, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan job record: %w", err)
		}
		if start.Valid {
			r.StartTime = start.Time
		}
		if stop.Valid {
			r.StopTime = stop.Time
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close implements Store.
func (s *duckStore) Close() error { return s.db.Close() }

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
