// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

//go:build !hdf5

package hdf

import "errors"

// newHDF5Backend is a stub for builds without the hdf5 tag.
func newHDF5Backend() (Backend, error) {
	return nil, errors.New("hdf5 backend requires building with -tags hdf5")
}
