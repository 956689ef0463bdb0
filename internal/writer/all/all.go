// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package all registers every built-in writer module as an import side
// effect, the way database/sql drivers are wired in.
package all

import (
	_ "github.com/mfalkenberg/nexusd/internal/writer/ev42"
	_ "github.com/mfalkenberg/nexusd/internal/writer/f142"
	_ "github.com/mfalkenberg/nexusd/internal/writer/tdct"
)
