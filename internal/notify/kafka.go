package notify

import (
	"context"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// MessageWriter is the part of *kafka.Writer KafkaSink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes position events to a Kafka topic keyed by position id,
// so every position's events stay ordered within one partition.
type KafkaSink struct {
	w            MessageWriter
	topic        string
	writeTimeout time.Duration
	logger       *zap.Logger
}

var _ domain.EventSink = (*KafkaSink)(nil)

// NewKafkaWriter builds an asynchronous writer for brokers (comma
// separated).
func NewKafkaWriter(brokers string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
		MaxAttempts:  5,
		WriteTimeout: 2 * time.Second,
	}
}

// NewKafkaSink creates a KafkaSink writing to topic through w.
func NewKafkaSink(w MessageWriter, topic string, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{
		w:            w,
		topic:        topic,
		writeTimeout: 2 * time.Second,
		logger:       logger.With(zap.String("component", "kafka_sink")),
	}
}

// Publish implements domain.EventSink.
func (s *KafkaSink) Publish(ctx context.Context, ev domain.PositionEvent) {
	value, err := sonic.Marshal(ev)
	if err != nil {
		s.logger.Warn("marshal position event failed", zap.String("position_id", ev.PositionID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	msg := kafka.Message{
		Topic: s.topic,
		Key:   []byte(ev.PositionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(ev.Type)},
		},
		Time: ev.At,
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		s.logger.Warn("kafka write failed",
			zap.String("topic", s.topic), zap.String("position_id", ev.PositionID), zap.Error(err))
	}
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.w.Close()
}
