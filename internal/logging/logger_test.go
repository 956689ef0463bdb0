// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Timestamp: false, Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("job_id", "j1").Msg("start command accepted")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if record["job_id"] != "j1" {
		t.Errorf("job_id = %v, want j1", record["job_id"])
	}
	if record["message"] != "start command accepted" {
		t.Errorf("message = %v", record["message"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Timestamp: false, Output: &buf})
	defer Init(DefaultConfig())

	Debug().Msg("suppressed")
	Info().Msg("suppressed")
	Warn().Msg("emitted")

	lines := strings.Count(strings.TrimSpace(buf.String()), "\n") + 1
	if buf.Len() == 0 {
		t.Fatal("warn log was suppressed")
	}
	if lines != 1 {
		t.Errorf("got %d log lines, want 1: %q", lines, buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Timestamp: false, Output: &buf})
	defer Init(DefaultConfig())

	slogger := slog.New(NewSlogHandler())
	slogger.Info("supervisor event", "service", "stream-controller", "restarts", int64(2))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["service"] != "stream-controller" {
		t.Errorf("service = %v", record["service"])
	}
	if record["restarts"] != float64(2) {
		t.Errorf("restarts = %v", record["restarts"])
	}
}

func TestSlogAdapterGroups(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Timestamp: false, Output: &buf})
	defer Init(DefaultConfig())

	slogger := slog.New(NewSlogHandler()).WithGroup("job").With("id", "j2")
	slogger.Warn("stop requested")

	if !strings.Contains(buf.String(), `"job.id":"j2"`) {
		t.Errorf("grouped attr missing: %q", buf.String())
	}
}
