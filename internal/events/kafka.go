package events

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes audit events to a Kafka topic, keyed by entity
// id so per-entity ordering survives partitioning.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (s *KafkaSink) Publish(ctx context.Context, e Event) error {
	payload, err := e.Encode()
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.EntityID),
		Value: payload,
	})
}

func (s *KafkaSink) Close() error { return s.writer.Close() }
