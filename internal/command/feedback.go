// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package command

import (
	"context"
	"time"

	"github.com/mfalkenberg/nexusd/internal/broker"
	"github.com/mfalkenberg/nexusd/internal/logging"
	"github.com/mfalkenberg/nexusd/internal/metrics"
	"github.com/mfalkenberg/nexusd/internal/wire"
)

// FeedbackProducer publishes command responses to the response topic.
// Publishing is best effort: the command plane never blocks or fails on
// feedback delivery, it logs and moves on.
type FeedbackProducer struct {
	producer  broker.Producer
	topic     string
	serviceID string
	timeout   time.Duration
}

// NewFeedbackProducer wraps a producer for a response topic.
func NewFeedbackProducer(producer broker.Producer, topic, serviceID string) *FeedbackProducer {
	return &FeedbackProducer{
		producer:  producer,
		topic:     topic,
		serviceID: serviceID,
		timeout:   5 * time.Second,
	}
}

// PublishResponse sends one terminal command outcome.
func (f *FeedbackProducer) PublishResponse(r wire.Response) {
	r.ServiceID = f.serviceID
	payload, err := wire.EncodeResponse(r)
	if err != nil {
		logging.Error().Err(err).Msg("failed to encode command response")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	if err := f.producer.Publish(ctx, f.topic, payload); err != nil {
		logging.Warn().Err(err).
			Str("type", string(r.Type)).
			Str("job_id", r.JobID).
			Msg("failed to publish command response")
		return
	}
	metrics.ResponsesPublished.WithLabelValues(string(r.Type), string(r.Result)).Inc()
}

// PublishStopped sends the has-stopped record that closes out a job.
func (f *FeedbackProducer) PublishStopped(result wire.ActionResult, jobID, message, filename, metadata string) {
	f.PublishResponse(wire.Response{
		Type:     wire.ActionHasStopped,
		Result:   result,
		JobID:    jobID,
		Message:  message,
		Filename: filename,
		Metadata: metadata,
	})
}
