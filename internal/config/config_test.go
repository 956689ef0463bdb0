// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom("")
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Commands.Topic != "nexusd_commands" {
		t.Errorf("command topic = %q", cfg.Commands.Topic)
	}
	if cfg.Broker.PollTimeout != 500*time.Millisecond {
		t.Errorf("poll timeout = %v", cfg.Broker.PollTimeout)
	}
	if cfg.Streamer.StopLeeway != 5*time.Second {
		t.Errorf("stop leeway = %v", cfg.Streamer.StopLeeway)
	}
	if !strings.HasPrefix(cfg.Service.ID, "nexusd-") {
		t.Errorf("generated service id = %q", cfg.Service.ID)
	}
	// Response topic defaults to the command topic.
	if cfg.Commands.ResponseTopic != cfg.Commands.Topic {
		t.Errorf("response topic = %q", cfg.Commands.ResponseTopic)
	}
	if cfg.Writer.HDFBackend != "native" {
		t.Errorf("hdf backend = %q", cfg.Writer.HDFBackend)
	}
}

func TestLoadYAMLFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexusd.yaml")
	content := `
service:
  id: writer-7
broker:
  url: nats://broker.site:4222
commands:
  topic: commands_psi
  status_interval: 5s
streamer:
  stop_leeway: 2s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Service.ID != "writer-7" {
		t.Errorf("service id = %q", cfg.Service.ID)
	}
	if cfg.Broker.URL != "nats://broker.site:4222" {
		t.Errorf("broker url = %q", cfg.Broker.URL)
	}
	if cfg.Commands.StatusInterval != 5*time.Second {
		t.Errorf("status interval = %v", cfg.Commands.StatusInterval)
	}
	if cfg.Streamer.StopLeeway != 2*time.Second {
		t.Errorf("stop leeway = %v", cfg.Streamer.StopLeeway)
	}
	// Untouched keys keep their defaults.
	if cfg.Commands.StatusTopic != "nexusd_status" {
		t.Errorf("status topic = %q", cfg.Commands.StatusTopic)
	}
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("NEXUSD_SERVICE__ID", "env-writer")
	t.Setenv("NEXUSD_COMMANDS__JOB_POOL_TOPIC", "pool_topic")
	cfg, err := LoadFrom("")
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Service.ID != "env-writer" {
		t.Errorf("service id = %q", cfg.Service.ID)
	}
	if cfg.Commands.JobPoolTopic != "pool_topic" {
		t.Errorf("job pool topic = %q", cfg.Commands.JobPoolTopic)
	}
}

func TestValidateRejectsMissingTopics(t *testing.T) {
	cfg := defaultConfig()
	cfg.Commands.Topic = ""
	cfg.Commands.JobPoolTopic = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation failure without any control topic")
	}
}

func TestValidateRejectsBadBackend(t *testing.T) {
	cfg := defaultConfig()
	cfg.Writer.HDFBackend = "csv"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "hdf_backend") {
		t.Errorf("Validate = %v", err)
	}
}

func TestValidateRejectsNonPositiveIntervals(t *testing.T) {
	cfg := defaultConfig()
	cfg.Commands.StatusInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation failure for zero status interval")
	}
}
