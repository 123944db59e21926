package events

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink writes events to a Kafka topic, hashing the key to pick the partition.
type KafkaSink struct {
	writer *kafka.Writer
	topic  string
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker")
	}
	if topic == "" {
		topic = Topic
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			WriteTimeout:           5 * time.Second,
		},
		topic: topic,
	}, nil
}

func (s *KafkaSink) Send(ctx context.Context, key string, payload []byte) error {
	return s.writer.WriteMessages(ctx, s.message(key, payload))
}

func (s *KafkaSink) message(key string, payload []byte) kafka.Message {
	return kafka.Message{
		Topic: s.topic,
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	}
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
