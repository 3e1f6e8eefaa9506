// Package kafka publishes alert events to a Kafka topic for dashboard
// and fleet-side consumers. Delivery is best-effort with bounded
// retries; the engine never blocks on it.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"cardiag/internal/alerts"
	"cardiag/internal/config"
	"cardiag/internal/logger"
	"cardiag/internal/metrics"
)

// Publisher errors
var (
	ErrPublisherClosed = errors.New("publisher is closed")
	ErrSerializeFailed = errors.New("failed to serialize alert event")
)

// Publisher writes alert events to a single topic, partitioned by
// signal id so per-signal event order is preserved.
type Publisher struct {
	cfg    config.KafkaConfig
	writer *kafka.Writer
	closed atomic.Bool

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewPublisher creates a Kafka alert publisher.
func NewPublisher(cfg config.KafkaConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // Partition by key
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  cfg.MaxRetries + 1,
		Async:        false,
	}

	return &Publisher{cfg: cfg, writer: writer}, nil
}

// Publish sends a single alert event.
func (p *Publisher) Publish(ctx context.Context, event alerts.Event) error {
	return p.PublishBatch(ctx, []alerts.Event{event})
}

// PublishBatch sends alert events in one write, with exponential
// backoff retries.
func (p *Publisher) PublishBatch(ctx context.Context, events []alerts.Event) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	if len(events) == 0 {
		return nil
	}

	log := logger.WithComponent("kafka_publisher")
	start := time.Now()

	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			log.Error().
				Err(err).
				Str("alert_id", event.Alert.ID).
				Msg("failed to serialize alert event")
			p.failed.Add(1)
			continue
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(event.Alert.Signal),
			Value: data,
			Headers: []kafka.Header{
				{Key: "alert_id", Value: []byte(event.Alert.ID)},
				{Key: "alert_type", Value: []byte(event.Alert.AlertType)},
				{Key: "action", Value: []byte(event.Action)},
			},
			Time: event.Alert.Timestamp,
		})
	}
	if len(messages) == 0 {
		return fmt.Errorf("%w: no publishable events in batch", ErrSerializeFailed)
	}

	err := p.writeWithRetry(ctx, messages)
	metrics.KafkaPublishDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		p.failed.Add(uint64(len(messages)))
		return err
	}

	p.sent.Add(uint64(len(messages)))
	return nil
}

func (p *Publisher) writeWithRetry(ctx context.Context, messages []kafka.Message) error {
	log := logger.WithComponent("kafka_publisher")
	var lastErr error
	backoff := p.cfg.RetryBackoff

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().
				Int("attempt", attempt).
				Int("batch_size", len(messages)).
				Dur("backoff", backoff).
				Msg("retrying kafka publish")
			metrics.KafkaPublishRetries.Inc()

			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := p.writer.WriteMessages(ctx, messages...)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}

// Close closes the underlying writer.
func (p *Publisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}

// HealthCheck verifies the publisher is usable. Backs /health: a
// closed or erroring writer reports the process as degraded.
func (p *Publisher) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	if stats := p.writer.Stats(); stats.Errors > 0 && stats.Writes == 0 {
		return fmt.Errorf("kafka writer failing: %d errors, no successful writes", stats.Errors)
	}
	return nil
}

// Stats returns publish counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Sent:   p.sent.Load(),
		Failed: p.failed.Load(),
	}
}

// Stats holds publisher counters.
type Stats struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

// NoopPublisher discards alert events. Used when no brokers are
// configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event alerts.Event) error { return nil }
func (NoopPublisher) PublishBatch(ctx context.Context, events []alerts.Event) error {
	return nil
}
