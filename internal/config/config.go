// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package config loads the nexusd configuration through koanf with
// layered sources: built-in defaults, then an optional YAML file, then
// NEXUSD_-prefixed environment variables (highest priority).
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config is the complete nexusd configuration.
type Config struct {
	Service  ServiceConfig  `koanf:"service"`
	Broker   BrokerConfig   `koanf:"broker"`
	Commands CommandsConfig `koanf:"commands"`
	Streamer StreamerConfig `koanf:"streamer"`
	Writer   WriterConfig   `koanf:"writer"`
	JobStore JobStoreConfig `koanf:"job_store"`
	Log      LogConfig      `koanf:"log"`
}

// ServiceConfig identifies this instance.
type ServiceConfig struct {
	// ID is the service identifier commands are addressed to. Empty
	// generates "nexusd-<random>" at load time.
	ID string `koanf:"id"`
	// HTTPAddr is the observability listen address; empty disables it.
	HTTPAddr string `koanf:"http_addr"`
}

// BrokerConfig holds the message-log connection settings.
type BrokerConfig struct {
	URL           string        `koanf:"url"`
	PollTimeout   time.Duration `koanf:"poll_timeout"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// CommandsConfig holds the control-plane topics.
type CommandsConfig struct {
	// Topic is the command topic; empty means pool-only operation.
	Topic string `koanf:"topic"`
	// JobPoolTopic is the shared work queue; empty disables pool
	// polling.
	JobPoolTopic string `koanf:"job_pool_topic"`
	// ResponseTopic receives command responses; defaults to Topic.
	ResponseTopic string        `koanf:"response_topic"`
	StatusTopic   string        `koanf:"status_topic"`
	StatusInterval time.Duration `koanf:"status_interval"`
}

// StreamerConfig holds the data-plane timing parameters.
type StreamerConfig struct {
	StopLeeway           time.Duration `koanf:"stop_leeway"`
	ErrorTimeout         time.Duration `koanf:"error_timeout"`
	TopicWriteDuration   time.Duration `koanf:"topic_write_duration"`
	BeforeStartAllowance time.Duration `koanf:"before_start_allowance"`
	AfterStopAllowance   time.Duration `koanf:"after_stop_allowance"`
	FlushInterval        time.Duration `koanf:"flush_interval"`
	MaxQueuedWrites      int           `koanf:"max_queued_writes"`
}

// WriterConfig holds the output-file settings.
type WriterConfig struct {
	// FilePrefix is joined with commanded filenames; empty uses them
	// verbatim.
	FilePrefix string `koanf:"file_prefix"`
	// HDFBackend selects the file backend: "native" or "hdf5".
	HDFBackend string `koanf:"hdf_backend"`
}

// JobStoreConfig controls the job-history store.
type JobStoreConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// LogConfig mirrors the logging package configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// defaultConfig returns the built-in defaults; file and environment
// layers override them.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:       "",
			HTTPAddr: ":8765",
		},
		Broker: BrokerConfig{
			URL:           "nats://127.0.0.1:4222",
			PollTimeout:   500 * time.Millisecond,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Commands: CommandsConfig{
			Topic:          "nexusd_commands",
			JobPoolTopic:   "",
			ResponseTopic:  "",
			StatusTopic:    "nexusd_status",
			StatusInterval: 2 * time.Second,
		},
		Streamer: StreamerConfig{
			StopLeeway:           5 * time.Second,
			ErrorTimeout:         10 * time.Second,
			TopicWriteDuration:   time.Second,
			BeforeStartAllowance: time.Second,
			AfterStopAllowance:   time.Second,
			FlushInterval:        10 * time.Second,
			MaxQueuedWrites:      16384,
		},
		Writer: WriterConfig{
			FilePrefix: "",
			HDFBackend: "native",
		},
		JobStore: JobStoreConfig{
			Enabled: false,
			Path:    "nexusd_jobs.duckdb",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate enforces cross-field rules after loading.
func (c *Config) Validate() error {
	var problems []string
	if c.Commands.Topic == "" && c.Commands.JobPoolTopic == "" {
		problems = append(problems,
			"at least one of commands.topic and commands.job_pool_topic must be set")
	}
	if c.Broker.URL == "" {
		problems = append(problems, "broker.url must be set")
	} else if _, err := url.Parse(c.Broker.URL); err != nil {
		problems = append(problems, fmt.Sprintf("broker.url is not a valid URL: %v", err))
	}
	if c.Broker.PollTimeout <= 0 {
		problems = append(problems, "broker.poll_timeout must be positive")
	}
	if c.Commands.StatusInterval <= 0 {
		problems = append(problems, "commands.status_interval must be positive")
	}
	if c.Streamer.StopLeeway < 0 || c.Streamer.ErrorTimeout <= 0 {
		problems = append(problems, "streamer timing parameters must be positive")
	}
	if c.Streamer.FlushInterval <= 0 {
		problems = append(problems, "streamer.flush_interval must be positive")
	}
	switch c.Writer.HDFBackend {
	case "native", "hdf5":
	default:
		problems = append(problems, fmt.Sprintf("writer.hdf_backend %q is not supported", c.Writer.HDFBackend))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// applyDerived fills values computed after the layers merge.
func (c *Config) applyDerived() {
	if c.Service.ID == "" {
		c.Service.ID = "nexusd-" + uuid.NewString()[:8]
	}
	if c.Commands.ResponseTopic == "" {
		c.Commands.ResponseTopic = c.Commands.Topic
	}
}
