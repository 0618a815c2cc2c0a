package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// RepublishProducer sends REPUBLISH requests to the external asset
// service (§4.D "After updating a rule...", §6 "Message identities
// used"): one frame per asset iname, verb REPUBLISH, to the
// asset-agent address.
type RepublishProducer struct {
	address string
	writer  *kafka.Writer
	closed  bool
}

// NewRepublishProducer returns a producer targeting address (normally
// "asset-agent", or whatever §6 configures as its equivalent).
func NewRepublishProducer(brokers []string, address string) (*RepublishProducer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	return &RepublishProducer{
		address: address,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    address,
			Balancer: &kafka.Hash{},
		},
	}, nil
}

// Republish requests a republish of each asset in inames, one frame
// per iname (§4.D post-ADD effect, §4.F sensor-not-in-binding case).
// It does not block the caller on delivery beyond the write itself —
// callers that must not block the mailbox reply path should invoke
// this from a goroutine (§5 "ADD's republish... does not block").
func (p *RepublishProducer) Republish(ctx context.Context, inames []string) error {
	if p.closed {
		return ErrProducerClosed
	}
	if len(inames) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, len(inames))
	for i, iname := range inames {
		msgs[i] = kafka.Message{
			Key:     []byte(iname),
			Value:   []byte(iname),
			Headers: []kafka.Header{{Key: "verb", Value: []byte("REPUBLISH")}},
		}
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("republish request to %s: %w", p.address, err)
	}
	return nil
}

func (p *RepublishProducer) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}
