package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/observability"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes lifecycle events keyed by ride id, so every event
// of one ride lands on the same partition. Concurrent commits may still be
// written out of order; readers order them by Event.Seq.
type KafkaProducer struct {
	writer  messageWriter
	logger  *slog.Logger
	timeout time.Duration
}

func NewKafkaProducer(brokers []string, topic string, logger *slog.Logger) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaProducer{writer: w, logger: logger, timeout: 2 * time.Second}
}

// Publish never fails the caller: the transition it describes is already
// committed. Write errors are logged and counted.
func (k *KafkaProducer) Publish(ctx context.Context, ev models.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.timeout)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		k.logger.Error("event encode failed", "event_id", ev.ID, "error", err)
		observability.EventsPublished.WithLabelValues("kafka", "error").Inc()
		return
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.RideID, 10)),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.logger.Error("event publish failed", "event_id", ev.ID, "type", ev.Type, "ride_id", ev.RideID, "error", err)
		observability.EventsPublished.WithLabelValues("kafka", "error").Inc()
		return
	}
	observability.EventsPublished.WithLabelValues("kafka", "ok").Inc()
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
