// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/mfalkenberg/nexusd/internal/logging"
)

// PoolListener claims start jobs off the shared job-pool topic. All
// file-writing services subscribe with the same queue group, so the broker
// hands each pool message to exactly one of them.
type PoolListener struct {
	subscriber message.Subscriber
	messages   <-chan *message.Message
	cancel     context.CancelFunc

	mu           sync.Mutex
	disconnected bool
}

// PoolConfig holds the job-pool subscription settings.
type PoolConfig struct {
	URL        string
	Topic      string
	QueueGroup string
	AckWait    time.Duration
}

// NewPoolListener subscribes to the job pool. The returned listener is
// polled from the command handler loop; it owns the subscription until
// Disconnect.
func NewPoolListener(cfg PoolConfig) (*PoolListener, error) {
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "nexusd-pool"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	wmConfig := wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: 1,
		AckWaitTimeout:   cfg.AckWait,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}
	sub, err := wmNats.NewSubscriber(wmConfig, watermillLogger{})
	if err != nil {
		return nil, fmt.Errorf("subscribe to job pool: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	messages, err := sub.Subscribe(ctx, cfg.Topic)
	if err != nil {
		cancel()
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe to job pool topic %q: %w", cfg.Topic, err)
	}
	return &PoolListener{subscriber: sub, messages: messages, cancel: cancel}, nil
}

// PollJob returns a claimed pool message without blocking.
func (l *PoolListener) PollJob(_ context.Context) ([]byte, bool) {
	l.mu.Lock()
	if l.disconnected {
		l.mu.Unlock()
		return nil, false
	}
	l.mu.Unlock()

	select {
	case msg, ok := <-l.messages:
		if !ok {
			return nil, false
		}
		msg.Ack()
		return msg.Payload, true
	default:
		return nil, false
	}
}

// Disconnect leaves the pool. Idempotent.
func (l *PoolListener) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disconnected {
		return nil
	}
	l.disconnected = true
	l.cancel()
	return l.subscriber.Close()
}

// watermillLogger routes watermill's internal logging into zerolog.
type watermillLogger struct {
	fields watermill.LogFields
}

func (w watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.apply(logging.Error().Err(err), fields).Msg(msg)
}

func (w watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.apply(logging.Info(), fields).Msg(msg)
}

func (w watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.apply(logging.Debug(), fields).Msg(msg)
}

func (w watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.apply(logging.Trace(), fields).Msg(msg)
}

func (w watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(w.fields)+len(fields))
	for k, v := range w.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return watermillLogger{fields: merged}
}

func (w watermillLogger) apply(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range w.fields {
		ev = ev.Interface(k, v)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}
