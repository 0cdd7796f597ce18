package outbox

import (
	"context"
	"fmt"

	"smallbiznis-loyalty/pkg/config"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type KafkaPublisher struct {
	producer *kafka.Producer
}

func NewKafkaPublisher(lc fx.Lifecycle, cfg *config.Config) (Publisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Kafka.Addrs,
		"enable.idempotence": true,
		"acks":               "all",
	})
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			p.Flush(5000)
			p.Close()
			return nil
		},
	})

	zap.L().Info("kafka producer initialized", zap.String("bootstrap", cfg.Kafka.Addrs))
	return &KafkaPublisher{producer: p}, nil
}

// Publish blocks until the broker acknowledges the message or ctx is done.
func (k *KafkaPublisher) Publish(ctx context.Context, msg *Message) error {
	topic := msg.Topic
	delivery := make(chan kafka.Event, 1)

	err := k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(msg.Key),
		Value:          msg.Payload,
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(msg.ID)},
			{Key: "event_type", Value: []byte(msg.EventType)},
		},
	}, delivery)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-delivery:
		m, ok := ev.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected kafka event %T", ev)
		}
		return m.TopicPartition.Error
	}
}
