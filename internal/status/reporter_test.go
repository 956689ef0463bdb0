// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package status

import (
	"testing"
	"time"

	"github.com/mfalkenberg/nexusd/internal/broker"
	"github.com/mfalkenberg/nexusd/internal/wire"
)

func TestReporterPublishesSnapshots(t *testing.T) {
	producer := broker.NewInMemProducer()
	r := NewReporter(producer, "status", "svc-1", 20*time.Millisecond)
	r.Start()

	r.UpdateJob(JobInfo{
		JobID:     "j1",
		Filename:  "a.nxs",
		StartTime: time.UnixMilli(100),
		State:     StateWriting,
	})

	deadline := time.Now().Add(2 * time.Second)
	var records [][]byte
	for time.Now().Before(deadline) {
		records = producer.Published("status")
		if len(records) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	r.Stop()

	if len(records) == 0 {
		t.Fatal("no status records published")
	}
	s, err := wire.DecodeStatus(records[len(records)-1])
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if s.ServiceID != "svc-1" || s.JobID != "j1" || s.State != StateWriting {
		t.Errorf("status = %+v", s)
	}
	if s.StartTime != 100 {
		t.Errorf("start_time = %d", s.StartTime)
	}
}

func TestReporterResetClearsJob(t *testing.T) {
	r := NewReporter(broker.NewInMemProducer(), "status", "svc-1", time.Hour)
	r.UpdateJob(JobInfo{JobID: "j1", State: StateWriting})
	r.UpdateStopTime(time.UnixMilli(900))
	if got := r.Snapshot(); got.StopTime != time.UnixMilli(900) {
		t.Errorf("stop time = %v", got.StopTime)
	}
	r.Reset()
	got := r.Snapshot()
	if got.JobID != "" || got.State != StateIdle {
		t.Errorf("snapshot after reset = %+v", got)
	}
}

func TestReporterStopIsIdempotent(t *testing.T) {
	r := NewReporter(broker.NewInMemProducer(), "status", "svc-1", time.Hour)
	r.Start()
	r.Stop()
	r.Stop()
}
