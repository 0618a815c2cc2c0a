// Package bus is the Kafka transport (spec.md §6 "Bus streams"),
// adapted from the teacher's internal/kafka: kafka_producer.go's
// pooled-writer/retry-with-backoff shape is kept for the alert and
// republish producers; consumer.go's stub is replaced with a real
// segmentio/kafka-go reader loop, since the engine (§4.F Task I) needs
// one.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"flexalert/internal/alert"
	"flexalert/internal/logger"
	"flexalert/internal/metrics"
)

var ErrProducerClosed = errors.New("producer is closed")

// ProducerConfig mirrors the teacher's config.ProducerConfig fields
// actually used here.
type ProducerConfig struct {
	MaxRetries   int
	RetryBackoff time.Duration
	WriteTimeout time.Duration
}

func (c *ProducerConfig) setDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// AlertProducer publishes alert envelopes (§4.F "Alert emission
// semantics") to their per-rule/severity/asset topic.
type AlertProducer struct {
	cfg    ProducerConfig
	writer *kafka.Writer
	closed bool
}

// NewAlertProducer returns a producer writing to brokers. The topic is
// set per-message via kafka.Message.Topic since each alert's outbound
// topic is derived from the rule/severity/asset (§4.F), not fixed.
func NewAlertProducer(brokers []string, cfg ProducerConfig) (*AlertProducer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	cfg.setDefaults()

	return &AlertProducer{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}, nil
}

// Publish sends env to its derived topic (§4.F).
func (p *AlertProducer) Publish(ctx context.Context, env alert.Envelope) error {
	if p.closed {
		return ErrProducerClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal alert envelope: %w", err)
	}

	topic := env.Topic()
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(env.Asset),
		Value: data,
		Time:  timeNow(),
	}

	if err := p.writeWithRetry(ctx, msg); err != nil {
		metrics.BusPublishTotal.WithLabelValues(topic, "failed").Inc()
		return err
	}
	metrics.BusPublishTotal.WithLabelValues(topic, "success").Inc()
	return nil
}

func (p *AlertProducer) writeWithRetry(ctx context.Context, msg kafka.Message) error {
	log := logger.WithComponent("bus_producer")
	backoff := p.cfg.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := p.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Str("topic", msg.Topic).Msg("alert publish attempt failed")

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
	return fmt.Errorf("publish failed after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}

func (p *AlertProducer) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}

// timeNow is a seam so tests do not depend on wall-clock time directly.
var timeNow = time.Now
