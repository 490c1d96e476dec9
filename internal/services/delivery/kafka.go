package delivery

import (
    "context"

    "SignalPulse/internal/domain/errs"
    "SignalPulse/internal/domain/models"
)

// Publisher is the subset of the Kafka producer the sink needs.
type Publisher interface {
    Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaSink publishes the raw message JSON keyed by job key, so one job's
// messages stay ordered within a partition.
type KafkaSink struct {
    pub   Publisher
    topic string
}

// NewKafkaSink creates a Kafka sink.
func NewKafkaSink(pub Publisher, topic string) *KafkaSink {
    return &KafkaSink{pub: pub, topic: topic}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Send(ctx context.Context, msg models.Message) error {
    if err := k.pub.Publish(ctx, k.topic, []byte(msg.JobKey), msg); err != nil {
        return errs.New(errs.KindDeliveryFailed, "delivery.kafka", err)
    }
    return nil
}
