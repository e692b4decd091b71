package safety

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/trip-dispatch/internal/models"
)

// KafkaAlerter publishes emergencies to the operator alert topic.
type KafkaAlerter struct {
	writer *kafka.Writer
}

func NewKafkaAlerter(brokers []string, topic string) *KafkaAlerter {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaAlerter{writer: w}
}

type alertPayload struct {
	Event models.EmergencyEvent `json:"event"`
	Trip  models.Trip           `json:"trip"`
}

func (k *KafkaAlerter) Alert(ctx context.Context, e models.EmergencyEvent, t models.Trip) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(alertPayload{Event: e, Trip: t})
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.TripID), Value: b})
}

func (k *KafkaAlerter) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
