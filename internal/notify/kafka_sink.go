package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventIDHeader carries a unique id per message so consumers can drop redeliveries.
const EventIDHeader = "event-id"

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes events to a Kafka topic keyed by event kind.
type KafkaSink struct {
	writer MessageWriter
	topic  string
}

// NewKafkaSink creates a KafkaSink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{writer: writer, topic: topic}
}

// NewKafkaSinkWithWriter creates a KafkaSink over w.
func NewKafkaSinkWithWriter(w MessageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic}
}

// Name implements Sink.
func (s *KafkaSink) Name() string { return "kafka" }

// Publish implements Sink.
func (s *KafkaSink) Publish(ctx context.Context, ev Event) error {
	value, err := ev.Encode()
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(ev.Type),
		Value: value,
		Headers: []kafka.Header{
			{Key: EventIDHeader, Value: []byte(uuid.NewString())},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", s.topic, err)
	}
	return nil
}

// Close implements Sink.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
