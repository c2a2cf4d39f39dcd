package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// kafkaWriter is the subset of *kafka.Writer the publisher needs.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by market, so events of
// one market stay ordered within a partition.
type KafkaPublisher struct {
	writer kafkaWriter
	logger *slog.Logger
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 50 * time.Millisecond,
		Compression:  kafka.Snappy,
	}
	return &KafkaPublisher{
		writer: writer,
		logger: logger.With(slog.String("component", "kafka_publisher")),
	}
}

// Publish implements domain.EventPublisher.
func (p *KafkaPublisher) Publish(ctx context.Context, ev domain.BetEvent) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(ev.MarketID),
		Value: payload,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: kafka write %s: %w", ev.Type, err)
	}
	p.logger.DebugContext(ctx, "events: published to kafka",
		slog.String("type", string(ev.Type)),
		slog.String("id", ev.ID),
	)
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ domain.EventPublisher = (*KafkaPublisher)(nil)
