// Package stream carries accepted durable events from the gateway to
// the persistence consumer over Kafka. Frames are keyed by chat id so
// per-chat order survives partitioning.
package stream

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type Writer struct {
	w *kafka.Writer
}

func NewWriter(brokers []string, topic string) *Writer {
	return &Writer{w: &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}}
}

// Publish appends one event frame for a chat. Implements hub.Sink.
func (w *Writer) Publish(ctx context.Context, key string, payload []byte) error {
	return w.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
	})
}

func (w *Writer) Close() error { return w.w.Close() }

// NewReader builds a group consumer for the event topic.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
}
