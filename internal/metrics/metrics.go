// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package metrics registers the Prometheus instrumentation for nexusd:
// write throughput, per-module error counts, partition lifecycle and
// command outcomes. All counters are safe for concurrent use; the writer
// thread and the partition loops update them without additional locking.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WritesDone counts completed appends to the output file.
	WritesDone = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nexusd_writes_done_total",
			Help: "Number of completed writes to the output file.",
		},
	)

	// WriteErrors counts failed appends, labelled by writer module id.
	WriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusd_write_errors_total",
			Help: "Number of failed writes to the output file.",
		},
		[]string{"module"},
	)

	// QueuedWrites tracks the depth of the message-writer job queue.
	QueuedWrites = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nexusd_queued_writes",
			Help: "Write jobs waiting for the writer thread.",
		},
	)

	// FlushDuration observes how long a periodic flush of all modules takes.
	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexusd_flush_duration_seconds",
			Help:    "Duration of periodic writer-module flushes.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// MessagesReceived counts data-plane messages admitted by the time
	// filter, labelled by topic.
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusd_messages_received_total",
			Help: "Messages admitted by the time filter and routed to a writer module.",
		},
		[]string{"topic"},
	)

	// MessagesDropped counts messages rejected by the time filter or
	// lacking a routable source, labelled by topic and reason.
	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusd_messages_dropped_total",
			Help: "Messages dropped before reaching a writer module.",
		},
		[]string{"topic", "reason"},
	)

	// PartitionsActive tracks partitions currently polled, per topic.
	PartitionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexusd_partitions_active",
			Help: "Partition streams currently being polled.",
		},
		[]string{"topic"},
	)

	// PartitionErrors counts poll errors seen by partition streams.
	PartitionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusd_partition_errors_total",
			Help: "Error poll outcomes observed on partition streams.",
		},
		[]string{"topic"},
	)

	// JobState is 0 when idle, 1 when writing.
	JobState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nexusd_job_state",
			Help: "Current job state (0 = idle, 1 = writing).",
		},
	)

	// CommandOutcomes counts processed control commands by type and outcome.
	CommandOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusd_command_outcomes_total",
			Help: "Terminal outcomes of processed start/stop commands.",
		},
		[]string{"command", "outcome"},
	)

	// ResponsesPublished counts published command responses by result.
	ResponsesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusd_responses_published_total",
			Help: "Command responses published to the response topic.",
		},
		[]string{"type", "result"},
	)
)
