package bus

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestHeaderMapConvertsKafkaHeaders(t *testing.T) {
	headers := []kafka.Header{
		{Key: "verb", Value: []byte("REPUBLISH")},
		{Key: "tracker", Value: []byte("abc-123")},
	}

	got := headerMap(headers)
	if got["verb"] != "REPUBLISH" || got["tracker"] != "abc-123" {
		t.Fatalf("headerMap() = %v", got)
	}
}

func TestHeaderMapEmpty(t *testing.T) {
	got := headerMap(nil)
	if len(got) != 0 {
		t.Fatalf("headerMap(nil) = %v, want empty", got)
	}
}

func TestNewAlertProducerRequiresBrokers(t *testing.T) {
	if _, err := NewAlertProducer(nil, ProducerConfig{}); err == nil {
		t.Fatal("expected error for empty broker list")
	}
}

func TestNewRepublishProducerRequiresBrokers(t *testing.T) {
	if _, err := NewRepublishProducer(nil, "asset-agent"); err == nil {
		t.Fatal("expected error for empty broker list")
	}
}
