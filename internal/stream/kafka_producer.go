package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/trip-dispatch/internal/models"
)

// KafkaProducer ships presence updates and trip samples to the location
// topic, keyed by driver so per-driver ordering survives partitioning.
type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) PublishPresence(ctx context.Context, p models.DriverPresence) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(p)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(p.DriverID), Value: b})
}

func (k *KafkaProducer) PublishSample(ctx context.Context, s models.LocationSample) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(s)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(s.DriverID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
