// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

//go:build !duckdb

package jobstore

// Open is a stub for builds without the duckdb tag.
func Open(string) (Store, error) {
	return nil, ErrDisabled
}
