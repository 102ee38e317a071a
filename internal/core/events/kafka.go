package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards bus events to a Kafka topic keyed by payment id.
type KafkaSink struct {
	writer MessageWriter
	logger *slog.Logger
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaSink(writer MessageWriter, logger *slog.Logger) *KafkaSink {
	return &KafkaSink{writer: writer, logger: logger}
}

func (s *KafkaSink) Handle(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.EventID(), err)
	}

	key := event.EventID()
	if e, ok := event.(*PaymentStatusChangedEvent); ok {
		key = e.PaymentID
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType())},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event %s to kafka: %w", event.EventID(), err)
	}

	s.logger.Debug("event forwarded to kafka",
		"event_type", event.EventType(),
		"event_id", event.EventID(),
		"key", key)
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
