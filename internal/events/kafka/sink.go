// Package kafka publishes committed events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fhayvy/Nexcredis/internal/events"
)

// Producer is the part of *kgo.Client the sink uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Sink produces one record per event, keyed by component so each
// component's events stay ordered within a partition.
type Sink struct {
	producer Producer
	topic    string
}

func New(p Producer, topic string) *Sink {
	return &Sink{producer: p, topic: topic}
}

// Dial creates a franz-go client for brokers.
func Dial(brokers []string, topic string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers")
	}
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
}

// Publish implements events.Sink. The batch is produced synchronously.
func (s *Sink) Publish(ctx context.Context, b events.Batch) error {
	if len(b.Events) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(b.Events))
	for _, ev := range b.Events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		records = append(records, &kgo.Record{
			Topic:     s.topic,
			Key:       []byte(ev.Component),
			Value:     payload,
			Timestamp: ev.At,
			Headers: []kgo.RecordHeader{
				{Key: "kind", Value: []byte(ev.Kind)},
				{Key: "sequence", Value: []byte(strconv.FormatUint(ev.Sequence, 10))},
				{Key: "batch_hash", Value: []byte(b.Hash)},
			},
		})
	}
	if err := s.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce block %d: %w", b.Block, err)
	}
	return nil
}
