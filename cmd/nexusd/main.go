// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

// Package main is the nexusd entry point.
//
// Nexusd subscribes to a NATS JetStream message log, consumes
// time-stamped measurement records and writes each source's stream into
// a typed, self-describing hierarchical file with a NeXus-style schema.
// Write jobs are created, parameterized, started and stopped by control
// commands received over the same log infrastructure.
//
// Startup order:
//
//  1. Configuration (koanf: defaults, YAML file, NEXUSD_ environment)
//  2. Logging (zerolog)
//  3. File backend and library version check (fatal on mismatch)
//  4. Broker connection and control streams
//  5. Job-history store
//  6. Command handler and status reporter
//  7. Job factory and master state machine
//  8. Supervision tree and observability HTTP server
//
// Build tags:
//
//	go build ./cmd/nexusd                  # native file backend only
//	go build -tags hdf5 ./cmd/nexusd      # real HDF5 output (cgo)
//	go build -tags duckdb ./cmd/nexusd    # DuckDB job history (cgo)
//
// Shutdown is graceful on SIGINT/SIGTERM: an active job is closed, a
// failure response is published for it, and the broker connection is
// drained.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mfalkenberg/nexusd/internal/api"
	"github.com/mfalkenberg/nexusd/internal/broker"
	"github.com/mfalkenberg/nexusd/internal/command"
	"github.com/mfalkenberg/nexusd/internal/config"
	"github.com/mfalkenberg/nexusd/internal/hdf"
	"github.com/mfalkenberg/nexusd/internal/jobstore"
	"github.com/mfalkenberg/nexusd/internal/logging"
	"github.com/mfalkenberg/nexusd/internal/master"
	"github.com/mfalkenberg/nexusd/internal/status"
	"github.com/mfalkenberg/nexusd/internal/stream"
	"github.com/mfalkenberg/nexusd/internal/supervisor"
	"github.com/mfalkenberg/nexusd/internal/writer"
	_ "github.com/mfalkenberg/nexusd/internal/writer/all"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("nexusd terminated")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Timestamp: true,
	})
	logging.Info().
		Str("service_id", cfg.Service.ID).
		Strs("modules", writer.Default.Identifiers()).
		Msg("nexusd starting")

	backend, err := hdf.NewBackend(cfg.Writer.HDFBackend)
	if err != nil {
		return err
	}
	if err := backend.VersionCheck(); err != nil {
		return fmt.Errorf("file library version check failed: %w", err)
	}

	client, err := broker.Connect(broker.ClientConfig{
		URL:           cfg.Broker.URL,
		PollTimeout:   cfg.Broker.PollTimeout,
		MaxReconnects: cfg.Broker.MaxReconnects,
		ReconnectWait: cfg.Broker.ReconnectWait,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, topic := range controlTopics(cfg) {
		if err := client.EnsureStream(ctx, topic, 1); err != nil {
			return err
		}
	}

	history := jobstore.Store(jobstore.NopStore{})
	if cfg.JobStore.Enabled {
		opened, err := jobstore.Open(cfg.JobStore.Path)
		if err != nil {
			if errors.Is(err, jobstore.ErrDisabled) {
				logging.Warn().Msg("job store enabled in config but not built in; running without it")
			} else {
				return err
			}
		} else {
			history = opened
			defer history.Close()
		}
	}

	feedback := command.NewFeedbackProducer(
		broker.NewBreakerProducer(client, broker.DefaultBreakerConfig("responses")),
		cfg.Commands.ResponseTopic, cfg.Service.ID)

	var listener command.Listener
	if cfg.Commands.Topic != "" {
		listener, err = command.NewTopicListener(ctx, client, cfg.Commands.Topic)
		if err != nil {
			return err
		}
	}

	var pool broker.JobListener
	var poolFactory command.PoolFactory
	if cfg.Commands.JobPoolTopic != "" {
		poolFactory = func() (broker.JobListener, error) {
			return broker.NewPoolListener(broker.PoolConfig{
				URL:   cfg.Broker.URL,
				Topic: cfg.Commands.JobPoolTopic,
			})
		}
		pool, err = poolFactory()
		if err != nil {
			return err
		}
	}

	handler := command.NewHandler(cfg.Service.ID, pool, poolFactory, listener, feedback)

	reporter := status.NewReporter(
		broker.NewBreakerProducer(client, broker.DefaultBreakerConfig("status")),
		cfg.Commands.StatusTopic, cfg.Service.ID, cfg.Commands.StatusInterval)

	defaults := stream.DefaultOptions()
	defaults.StopLeeway = cfg.Streamer.StopLeeway
	defaults.ErrorTimeout = cfg.Streamer.ErrorTimeout
	defaults.TopicWriteDuration = cfg.Streamer.TopicWriteDuration
	defaults.BeforeStartAllowance = cfg.Streamer.BeforeStartAllowance
	defaults.AfterStopAllowance = cfg.Streamer.AfterStopAllowance
	defaults.FlushInterval = cfg.Streamer.FlushInterval
	defaults.MaxQueuedWrites = cfg.Streamer.MaxQueuedWrites

	creator := master.NewCreator(client, backend, writer.Default, cfg.Writer.FilePrefix, defaults)
	m := master.NewMaster(handler, creator, reporter, history)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddControl(supervisor.ServiceFunc{Name: "master-loop", Run: m.Run})
	tree.AddControl(supervisor.ServiceFunc{
		Name: "status-reporter",
		Run: func(ctx context.Context) error {
			reporter.Start()
			<-ctx.Done()
			reporter.Stop()
			return ctx.Err()
		},
	})
	if cfg.Service.HTTPAddr != "" {
		server := api.NewServer(cfg.Service.HTTPAddr, reporter, history, writer.Default,
			func() bool { return client.Conn().IsConnected() })
		tree.AddObservability(server)
	}

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("nexusd stopped")
	return nil
}

// controlTopics lists the JetStream streams the control plane needs.
func controlTopics(cfg *config.Config) []string {
	seen := map[string]struct{}{}
	var topics []string
	for _, topic := range []string{
		cfg.Commands.Topic, cfg.Commands.ResponseTopic, cfg.Commands.StatusTopic,
	} {
		if topic == "" {
			continue
		}
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		topics = append(topics, topic)
	}
	return topics
}
