// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package wire

import (
	"fmt"
	"time"
)

// Key identifies a (source name, schema id) pair; the demultiplexer routes
// data messages by it.
type Key struct {
	SourceName string
	SchemaID   string
}

// String implements fmt.Stringer for log output.
func (k Key) String() string { return k.SourceName + ":" + k.SchemaID }

// Extract reads the schema identifier, source name and producer timestamp
// of a data-plane payload without fully decoding it. This is the reader
// the partition stream uses for time gating and routing.
func Extract(payload []byte) (Key, time.Time, error) {
	id, err := PayloadID(payload)
	if err != nil {
		return Key{}, time.Time{}, err
	}
	switch id {
	case LogDataID:
		msg, err := DecodeLogData(payload)
		if err != nil {
			return Key{}, time.Time{}, err
		}
		return Key{SourceName: msg.SourceName, SchemaID: id}, msg.Time(), nil
	case EventDataID:
		msg, err := DecodeEventData(payload)
		if err != nil {
			return Key{}, time.Time{}, err
		}
		return Key{SourceName: msg.SourceName, SchemaID: id}, msg.Time(), nil
	case ChopperID:
		msg, err := DecodeChopperTimestamps(payload)
		if err != nil {
			return Key{}, time.Time{}, err
		}
		return Key{SourceName: msg.Name, SchemaID: id}, msg.Time(), nil
	default:
		return Key{}, time.Time{}, fmt.Errorf("no reader registered for schema %q", id)
	}
}
