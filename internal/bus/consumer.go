package bus

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"

	"flexalert/internal/logger"
	"flexalert/internal/metrics"
)

// Message is one frame delivered off a stream, trimmed to what
// handlers in internal/engine need (§4.F Task I).
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Handler processes one Message. A returned error is logged; it does
// not stop the consumer (§7 "Recoverability").
type Handler func(ctx context.Context, msg Message) error

// Consumer wraps a single kafka.Reader. The engine (§4.F) runs one per
// stream: assets, regular metrics, sensor metrics, licensing
// announcements.
type Consumer struct {
	topic  string
	reader *kafka.Reader
}

// NewConsumer returns a Consumer for topic using groupID for offset
// tracking.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		topic: topic,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
	}
}

// Run fetches messages until ctx is canceled, invoking handle for each
// and committing only after handle returns (at-least-once delivery).
// It returns nil on context cancellation and any other error
// encountered reading from the broker.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	log := logger.WithComponent("bus_consumer").With().Str("topic", c.topic).Logger()
	log.Info().Msg("consumer starting")

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info().Msg("consumer stopping")
				return nil
			}
			metrics.BusConsumeTotal.WithLabelValues(c.topic, "fetch_error").Inc()
			return err
		}

		msg := Message{Topic: c.topic, Key: m.Key, Value: m.Value, Headers: headerMap(m.Headers)}
		if err := handle(ctx, msg); err != nil {
			log.Error().Err(err).Msg("handler failed processing message")
			metrics.BusConsumeTotal.WithLabelValues(c.topic, "handler_error").Inc()
		} else {
			metrics.BusConsumeTotal.WithLabelValues(c.topic, "success").Inc()
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			log.Warn().Err(err).Msg("failed to commit message offset")
		}
	}
}

func headerMap(headers []kafka.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
