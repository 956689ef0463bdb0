// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package broker

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mfalkenberg/nexusd/internal/logging"
)

// BreakerProducer wraps a Producer with a circuit breaker so that a broker
// outage on the response path fails fast instead of stalling the command
// loop. Open-circuit publishes are dropped with a warning; command
// processing itself must never block on feedback delivery.
type BreakerProducer struct {
	inner   Producer
	breaker *gobreaker.CircuitBreaker[any]
}

// BreakerConfig tunes the publish circuit breaker.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig returns the publish-path defaults.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 5,
	}
}

// NewBreakerProducer wraps inner with a circuit breaker.
func NewBreakerProducer(inner Producer, cfg BreakerConfig) *BreakerProducer {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("publish circuit breaker state change")
		},
	}
	return &BreakerProducer{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

// Publish sends the payload through the breaker.
func (p *BreakerProducer) Publish(ctx context.Context, topic string, payload []byte) error {
	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.inner.Publish(ctx, topic, payload)
	})
	return err
}

// Close closes the wrapped producer.
func (p *BreakerProducer) Close() error { return p.inner.Close() }

// State reports the breaker state for the status surface.
func (p *BreakerProducer) State() string { return p.breaker.State().String() }
