// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package stream

import (
	"sync/atomic"
	"time"

	"github.com/mfalkenberg/nexusd/internal/broker"
	"github.com/mfalkenberg/nexusd/internal/filewriter"
	"github.com/mfalkenberg/nexusd/internal/logging"
	"github.com/mfalkenberg/nexusd/internal/metrics"
	"github.com/mfalkenberg/nexusd/internal/wire"
)

// Demux routes one topic's data messages to writer modules by
// (source name, schema id) and tracks approximate source activity.
// PartitionStreams hold non-owning references to it; the sources and
// their modules stay owned by the FileWriterTask.
type Demux struct {
	topic   string
	sources map[wire.Key]filewriter.Source
	writer  *MessageWriter

	processed atomic.Int64
	dropped   atomic.Int64
	// lastMessage is unix nanos of the newest routed message.
	lastMessage atomic.Int64
}

// NewDemux builds the routing table of a topic from the task's sources.
func NewDemux(topic string, sources []filewriter.Source, mw *MessageWriter) *Demux {
	table := make(map[wire.Key]filewriter.Source)
	for _, source := range sources {
		if source.Topic != topic {
			continue
		}
		table[source.Key()] = source
	}
	return &Demux{topic: topic, sources: table, writer: mw}
}

// Topic returns the topic this demultiplexer serves.
func (d *Demux) Topic() string { return d.topic }

// NumSources returns the routing-table size.
func (d *Demux) NumSources() int { return len(d.sources) }

// Process routes one admitted message. key and ts were extracted by the
// partition stream's time filter.
func (d *Demux) Process(key wire.Key, ts time.Time, msg broker.Message) {
	source, ok := d.sources[key]
	if !ok {
		d.dropped.Add(1)
		metrics.MessagesDropped.WithLabelValues(d.topic, "unknown_source").Inc()
		logging.Debug().
			Str("topic", d.topic).
			Str("source", key.SourceName).
			Str("schema", key.SchemaID).
			Msg("dropping message without a matching source")
		return
	}
	d.processed.Add(1)
	d.lastMessage.Store(ts.UnixNano())
	metrics.MessagesReceived.WithLabelValues(d.topic).Inc()
	d.writer.AddMessage(key.SchemaID, source.Module, msg.Payload)
}

// DropBeforeStart records a message rejected for arriving before the
// admission window.
func (d *Demux) DropBeforeStart() {
	d.dropped.Add(1)
	metrics.MessagesDropped.WithLabelValues(d.topic, "before_start").Inc()
}

// DropAfterStop records a message rejected past the admission window.
func (d *Demux) DropAfterStop() {
	d.dropped.Add(1)
	metrics.MessagesDropped.WithLabelValues(d.topic, "after_stop").Inc()
}

// DropUndecodable records a payload the reader could not extract.
func (d *Demux) DropUndecodable() {
	d.dropped.Add(1)
	metrics.MessagesDropped.WithLabelValues(d.topic, "undecodable").Inc()
}

// Processed reports routed messages.
func (d *Demux) Processed() int64 { return d.processed.Load() }

// Dropped reports rejected messages.
func (d *Demux) Dropped() int64 { return d.dropped.Load() }

// LastMessageTime reports the producer timestamp of the newest routed
// message; zero when none was routed yet.
func (d *Demux) LastMessageTime() time.Time {
	ns := d.lastMessage.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
